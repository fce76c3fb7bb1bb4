package download

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medcohort/tcia-fetch/pkg/tcia"
)

// fakeSource serves series listings and points every download at the
// test archive server.
type fakeSource struct {
	series     map[string][]tcia.Series // key: studyUID
	url        string
	resolveErr error
	resolves   int32
}

func (f *fakeSource) ListSeries(ctx context.Context, collection, patientID, studyUID string) ([]tcia.Series, error) {
	return f.series[studyUID], nil
}

func (f *fakeSource) ResolveDownloadURL(ctx context.Context, seriesUID string) (string, error) {
	atomic.AddInt32(&f.resolves, 1)
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return f.url, nil
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		entry, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func archiveServer(t *testing.T, archive []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testStudy() tcia.Study {
	return tcia.Study{
		Collection:       "TEST-COL",
		PatientID:        "P0001",
		StudyInstanceUID: "1.2.100",
		StudyDate:        "2003-02-11",
	}
}

func TestDownloadStudies_ExtractsArchives(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"000001.dcm": "dicom-one",
		"000002.dcm": "dicom-two",
	})
	srv := archiveServer(t, archive)
	source := &fakeSource{
		url: srv.URL,
		series: map[string][]tcia.Series{
			"1.2.100": {{SeriesInstanceUID: "1.2.200", Modality: "SR"}},
		},
	}
	dataDir := t.TempDir()
	d := New(source, dataDir, zerolog.Nop(), Options{})

	if err := d.DownloadStudies(context.Background(), []tcia.Study{testStudy()}); err != nil {
		t.Fatalf("DownloadStudies: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dataDir, "TEST-COL", "P0001", "1.2.100", "1.2.200", "000001.dcm"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(got) != "dicom-one" {
		t.Errorf("extracted content = %q", got)
	}
}

func TestDownloadStudies_SkipsExistingSeries(t *testing.T) {
	srv := archiveServer(t, zipArchive(t, map[string]string{"a.dcm": "x"}))
	source := &fakeSource{
		url: srv.URL,
		series: map[string][]tcia.Series{
			"1.2.100": {{SeriesInstanceUID: "1.2.200"}},
		},
	}
	dataDir := t.TempDir()
	dest := filepath.Join(dataDir, "TEST-COL", "P0001", "1.2.100", "1.2.200")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatalf("pre-create dest: %v", err)
	}
	d := New(source, dataDir, zerolog.Nop(), Options{})

	if err := d.DownloadStudies(context.Background(), []tcia.Study{testStudy()}); err != nil {
		t.Fatalf("DownloadStudies: %v", err)
	}
	if n := atomic.LoadInt32(&source.resolves); n != 0 {
		t.Errorf("resolved %d urls for already-downloaded series", n)
	}
}

func TestDownloadStudies_ResolveErrorAborts(t *testing.T) {
	source := &fakeSource{
		resolveErr: errors.New("no download url"),
		series: map[string][]tcia.Series{
			"1.2.100": {{SeriesInstanceUID: "1.2.200"}},
		},
	}
	d := New(source, t.TempDir(), zerolog.Nop(), Options{})

	if err := d.DownloadStudies(context.Background(), []tcia.Study{testStudy()}); err == nil {
		t.Fatal("expected resolve error")
	}
}

func TestExtractZip_RejectsPathTraversal(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	entry, err := w.Create("../escape.dcm")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	entry.Write([]byte("evil"))
	w.Close()

	dest := t.TempDir()
	if err := extractZip(buf.Bytes(), filepath.Join(dest, "series")); err == nil {
		t.Fatal("traversal entry not rejected")
	}
	if _, err := os.Stat(filepath.Join(dest, "escape.dcm")); !errors.Is(err, os.ErrNotExist) {
		t.Error("traversal entry escaped destination")
	}
}

func TestExtractZip_NestedDirectories(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"sub/dir/file.dcm": "nested",
	})
	dest := filepath.Join(t.TempDir(), "series")
	if err := extractZip(archive, dest); err != nil {
		t.Fatalf("extractZip: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "sub", "dir", "file.dcm"))
	if err != nil {
		t.Fatalf("read nested file: %v", err)
	}
	if string(got) != "nested" {
		t.Errorf("nested content = %q", got)
	}
}
