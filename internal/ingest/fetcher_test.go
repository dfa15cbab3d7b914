package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeFetcher struct {
	downloadErr error
	written     string
}

func (f *fakeFetcher) Probe(ctx context.Context, rawURL string) ([]Candidate, error) {
	return []Candidate{{Label: "720p", SizeBytes: 100}}, nil
}

func (f *fakeFetcher) Download(ctx context.Context, rawURL string, candidate Candidate, destPath string) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	f.written = destPath
	return os.WriteFile(destPath, []byte("data"), 0o644)
}

func TestScratchDownloadSuccess(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{}
	candidate := Candidate{Label: "720p", SizeBytes: 100}

	path, cleanup, err := scratchDownload(context.Background(), fetcher, dir, "https://example.com/f.mp4", candidate, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("expected scratch file under %s, got %s", dir, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist before cleanup: %v", err)
	}

	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed after cleanup, stat err=%v", err)
	}
}

func TestScratchDownloadTooLarge(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{}
	candidate := Candidate{Label: "4k", SizeBytes: 10 * 1024 * 1024}

	_, _, err := scratchDownload(context.Background(), fetcher, dir, "https://example.com/f.mp4", candidate, 5, 0)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestScratchDownloadTooLong(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{}
	candidate := Candidate{Label: "movie", DurationSeconds: 10 * 3600}

	_, _, err := scratchDownload(context.Background(), fetcher, dir, "https://example.com/f.mp4", candidate, 0, 2)
	if !errors.Is(err, ErrDurationTooLong) {
		t.Fatalf("expected ErrDurationTooLong, got %v", err)
	}
}

func TestScratchDownloadFetcherErrorCleansUp(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{downloadErr: errors.New("network broke")}
	candidate := Candidate{Label: "720p"}

	_, _, err := scratchDownload(context.Background(), fetcher, dir, "https://example.com/f.mp4", candidate, 0, 0)
	if err == nil {
		t.Fatalf("expected error from failed download")
	}

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("failed to read scratch dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch dir empty after failed download, got %d entries", len(entries))
	}
}
