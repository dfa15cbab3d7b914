package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrFileTooLarge and ErrDurationTooLong enforce the ingest caps from
// spec.md's configuration additions (MAX_FILE_SIZE_MIB, MAX_DURATION_HOURS).
var (
	ErrFileTooLarge    = errors.New("ingest: candidate exceeds the configured size cap")
	ErrDurationTooLong = errors.New("ingest: candidate exceeds the configured duration cap")
)

// Candidate is one quality/format option an ExternalFetcher offers for a
// given URL (e.g. a resolution or bitrate variant).
type Candidate struct {
	Label           string
	SizeBytes       int64
	DurationSeconds int64
}

// ExternalFetcher resolves a raw URL to a set of Candidates and, once
// one is picked, downloads it to a local path. The concrete
// implementation (shelling out to a downloader subprocess) is out of
// scope; only this interface and the scratch-file bookkeeping around it
// are specified.
type ExternalFetcher interface {
	Probe(ctx context.Context, rawURL string) ([]Candidate, error)
	Download(ctx context.Context, rawURL string, candidate Candidate, destPath string) error
}

// scratchDownload downloads candidate into a uuid-named file under dir,
// enforcing maxSizeMiB/maxDurationHours before touching the network, and
// always removes the file again via the returned cleanup func — matching
// spec.md §9's "try...finally" note, grounded on the donor's
// writeBytesAtomically temp-file pattern, generalized from
// temp-file-then-rename to temp-file-then-delete since the caller only
// needs the bytes forwarded upstream, not kept on disk.
func scratchDownload(ctx context.Context, fetcher ExternalFetcher, dir, rawURL string, candidate Candidate, maxSizeMiB, maxDurationHours int) (path string, cleanup func(), err error) {
	if maxSizeMiB > 0 && candidate.SizeBytes > int64(maxSizeMiB)*1024*1024 {
		return "", nil, ErrFileTooLarge
	}
	if maxDurationHours > 0 && candidate.DurationSeconds > int64(maxDurationHours)*3600 {
		return "", nil, ErrDurationTooLong
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}

	name := uuid.New().String()
	dest := filepath.Join(dir, name)
	cleanup = func() { _ = os.Remove(dest) }

	if err := fetcher.Download(ctx, rawURL, candidate, dest); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("download candidate: %w", err)
	}
	return dest, cleanup, nil
}

