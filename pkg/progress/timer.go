// Package progress renders a lightweight elapsed-time indicator for
// long-running terminal operations.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Indicator writes an updating elapsed-time line to a writer once per
// second until stopped. It is meant for interactive use; callers that
// write to a non-terminal can simply not start one.
type Indicator struct {
	w        io.Writer
	label    string
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Start begins rendering the indicator. The returned Indicator must be
// stopped with Stop, which is safe to call more than once.
func Start(w io.Writer, label string) *Indicator {
	ind := &Indicator{
		w:        w,
		label:    label,
		interval: time.Second,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go ind.run()
	return ind
}

func (i *Indicator) run() {
	defer close(i.done)
	start := time.Now()
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()
	for {
		select {
		case <-i.stop:
			fmt.Fprintf(i.w, "\r⏳ %s... %s\n", i.label, formatElapsed(time.Since(start)))
			return
		case <-ticker.C:
			fmt.Fprintf(i.w, "\r⏳ %s... %s", i.label, formatElapsed(time.Since(start)))
		}
	}
}

// Stop halts the indicator and prints a final elapsed-time line.
func (i *Indicator) Stop() {
	i.stopOnce.Do(func() {
		close(i.stop)
		<-i.done
	})
}

func formatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
}
