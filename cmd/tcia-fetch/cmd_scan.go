package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/medcohort/tcia-fetch/internal/subspecialty"
	"github.com/medcohort/tcia-fetch/pkg/prober"
	"github.com/medcohort/tcia-fetch/pkg/scancache"
)

// scanSampleSize is larger than the fetch preflight sample: a scan is
// the only look a collection gets, so it can afford a wider net.
const scanSampleSize = 20

var (
	scanCollection   string
	scanSubspecialty string
	scanAll          bool
	scanRefresh      bool
)

// scanCmd probes collections for report content without fetching them.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Probe collections for report content",
	Long: `Scan samples each collection's series inventory and records whether
any report indicator (report modality or report-like description) shows
up. Outcomes are cached in Redis when --redis is configured, so later
fetches skip collections already known to carry no reports.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanCollection, "collection", "c", "", "Scan a single collection")
	scanCmd.Flags().StringVarP(&scanSubspecialty, "subspecialty", "s", "", "Scan every collection of a subspecialty")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Scan every mapped collection")
	scanCmd.Flags().BoolVar(&scanRefresh, "refresh", false, "Re-probe collections with cached outcomes")
	scanCmd.MarkFlagsOneRequired("collection", "subspecialty", "all")
	scanCmd.MarkFlagsMutuallyExclusive("collection", "subspecialty", "all")
}

// scanTargets resolves the flag selection to a collection list.
func scanTargets() ([]string, error) {
	switch {
	case scanCollection != "":
		return []string{scanCollection}, nil
	case scanSubspecialty != "":
		cols, ok := subspecialty.Collections(scanSubspecialty)
		if !ok {
			return nil, fmt.Errorf("unknown subspecialty %q (known: %v)", scanSubspecialty, subspecialty.Names())
		}
		return cols, nil
	default:
		return subspecialty.All(), nil
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	targets, err := scanTargets()
	if err != nil {
		return err
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	p := prober.New(client, logger, prober.Options{
		Concurrency: cfg.ClassifyConcurrency,
		ProbeDelay:  cfg.ProbeDelay,
	})
	scans := openScanCache(cmd)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "COLLECTION\tREPORTS\tSOURCE")

	withReports := 0
	for _, collection := range targets {
		if err := ctx.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "interrupted, partial scan")
			break
		}

		if scans != nil && !scanRefresh {
			rec, err := scans.GetScan(ctx, collection)
			if err == nil {
				fmt.Fprintf(w, "%s\t%v\tcached\n", collection, rec.HasReports)
				if rec.HasReports {
					withReports++
				}
				continue
			}
			if !errors.Is(err, scancache.ErrCacheMiss) {
				logger.Warn().Err(err).Str("collection", collection).Msg("scan cache read failed")
			}
		}

		found, err := p.Probe(ctx, collection, scanSampleSize)
		if err != nil {
			logger.Error().Err(err).Str("collection", collection).Msg("scan failed")
			fmt.Fprintf(w, "%s\terror\tlive\n", collection)
			continue
		}
		if found {
			withReports++
		}
		fmt.Fprintf(w, "%s\t%v\tlive\n", collection, found)

		if scans != nil {
			if err := scans.SetScan(ctx, &scancache.ScanRecord{Collection: collection, HasReports: found}); err != nil {
				logger.Warn().Err(err).Str("collection", collection).Msg("failed to cache scan outcome")
			}
		}
	}

	fmt.Fprintf(os.Stderr, "%d of %d collections show report content\n", withReports, len(targets))
	return nil
}
