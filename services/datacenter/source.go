// Package datacenter reads the scraped datacenter-status artifact the
// external scraper refreshes on its own schedule. The core only consumes
// the resulting name→count mapping; fetching the upstream page is not its
// job.
package datacenter

import (
	"bufio"
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"hostwarden/models"
)

// ErrUnavailable signals the snapshot source cannot be read at all this
// tick. Monitors treat it as a silent no-op; manual refresh surfaces it.
var ErrUnavailable = errors.New("datacenter snapshot source unavailable")

// Source produces a fresh snapshot of per-datacenter online counts.
type Source interface {
	Fetch(ctx context.Context) (*models.DatacenterSnapshot, error)
}

// Markers of the scraper's line format. Lines that don't carry both are
// ignored; the site-wide aggregate line is skipped so it isn't double
// counted into the total.
const (
	linePrefix      = "✅ 数据中心:"
	countMarker     = "VPS 数量:"
	aggregateMarker = "Number of VPS Online"
)

// FileSource reads snapshots from the text file the scraper keeps
// rewriting. The filesystem is injected so tests run against a memory fs.
type FileSource struct {
	fs   afero.Fs
	path string
}

// NewFileSource returns a source backed by the given snapshot file.
func NewFileSource(fs afero.Fs, path string) *FileSource {
	return &FileSource{fs: fs, path: path}
}

var _ Source = (*FileSource)(nil)

// Fetch parses the snapshot file. A missing file maps to ErrUnavailable;
// individual malformed lines are skipped, and a file with zero valid
// entries is a valid empty snapshot with total 0.
func (f *FileSource) Fetch(ctx context.Context) (*models.DatacenterSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := f.fs.Open(f.path)
	if err != nil {
		return nil, ErrUnavailable
	}
	defer file.Close()

	snap := &models.DatacenterSnapshot{Counts: make(map[string]int)}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, linePrefix) || !strings.Contains(line, countMarker) {
			continue
		}
		if strings.Contains(line, aggregateMarker) {
			continue
		}

		name, count, ok := parseLine(line)
		if !ok {
			log.Printf("[datacenter] skipping malformed line %q in %s", line, f.path)
			continue
		}
		snap.Counts[name] = count
		snap.Total += count
	}
	if err := scanner.Err(); err != nil {
		return nil, ErrUnavailable
	}
	return snap, nil
}

func parseLine(line string) (string, int, bool) {
	rest := strings.TrimPrefix(line, linePrefix)
	name, tail, found := strings.Cut(rest, ",")
	if !found {
		// Some scraper revisions drop the comma; the count marker still
		// separates name from count.
		name, tail, found = strings.Cut(rest, countMarker)
		if !found {
			return "", 0, false
		}
		tail = countMarker + tail
	}
	name = strings.ReplaceAll(strings.TrimSpace(name), "./", "")
	if name == "" {
		return "", 0, false
	}

	_, after, found := strings.Cut(tail, countMarker)
	if !found {
		return "", 0, false
	}
	countField := strings.Fields(strings.TrimSpace(after))
	if len(countField) == 0 {
		return "", 0, false
	}
	count, err := strconv.Atoi(countField[0])
	if err != nil {
		return "", 0, false
	}
	return name, count, true
}
