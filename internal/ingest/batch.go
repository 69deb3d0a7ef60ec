package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegpiraten/billing-cli/internal/model"
)

// timesheetExts are the file types Discover picks up.
var timesheetExts = map[string]bool{
	".xlsx": true,
	".xlsm": true,
	".csv":  true,
}

// Discover lists the timesheet files directly inside dir, sorted by name.
// Office lock files ("~$...") and hidden files are skipped.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read dir %s", dir)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
			continue
		}
		if timesheetExts[strings.ToLower(filepath.Ext(name))] {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Summary aggregates the outcomes of a batch.
type Summary struct {
	Outcomes []*Outcome
	Counts   map[model.IngestStatus]int
}

// Failed reports whether any file did not end complete or unchanged.
func (s Summary) Failed() bool {
	return s.Counts[model.IngestFailed]+s.Counts[model.IngestRejected] > 0
}

// RunBatch ingests paths concurrently, each file in its own transaction. A
// failing file does not stop the others. Outcomes keep the order of paths.
func (s *Service) RunBatch(ctx context.Context, paths []string) Summary {
	log := zap.L().With(zap.String("component", "ingest"))
	outcomes := make([]*Outcome, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, path := range paths {
		g.Go(func() error {
			out, _ := s.IngestFile(gctx, path)
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Outcomes: outcomes, Counts: make(map[model.IngestStatus]int)}
	for _, o := range outcomes {
		sum.Counts[o.Status]++
	}
	log.Info("batch finished",
		zap.Int("files", len(paths)),
		zap.Int("complete", sum.Counts[model.IngestComplete]),
		zap.Int("unchanged", sum.Counts[model.IngestUnchanged]),
		zap.Int("rejected", sum.Counts[model.IngestRejected]),
		zap.Int("failed", sum.Counts[model.IngestFailed]),
	)
	return sum
}
