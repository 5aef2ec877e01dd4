package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Result is the outcome of one session of a batch.
type Result struct {
	Session Session
	// Path is the written file, or the error file when Err is set.
	Path string
	Err  error
}

type sessionFunc func(ctx context.Context, s Session, opts Options) (string, error)

// DatasetToNWB discovers every session of dataset under dataDir and
// converts them with RunBatch. A tree without sessions yields no results.
func DatasetToNWB(ctx context.Context, fsys afero.Fs, dataset, dataDir string, opts Options, workers int) ([]Result, error) {
	sessions, err := Discover(fsys, dataset, dataDir)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("No sessions found", "dataset", dataset, "data_dir", dataDir)
		return []Result{}, nil
	}
	return RunBatch(ctx, sessions, opts, workers)
}

// RunBatch converts sessions with at most workers in flight. A failed or
// panicking session leaves ERROR_<file>.txt in the output directory and
// the others carry on.
func RunBatch(ctx context.Context, sessions []Session, opts Options, workers int) ([]Result, error) {
	return runBatch(ctx, sessions, opts, workers, SessionToNWB)
}

func runBatch(ctx context.Context, sessions []Session, opts Options, workers int, convert sessionFunc) ([]Result, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(sessions))
	p := pool.New().WithMaxGoroutines(max(1, workers))
	for i, s := range sessions {
		i, s := i, s
		p.Go(func() {
			results[i] = convertOne(ctx, i, s, opts, convert)
		})
	}
	p.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	opts.Logger.Info("Batch finished", "sessions", len(sessions), "converted", len(sessions)-failed, "failed", failed)
	return results, nil
}

func convertOne(ctx context.Context, i int, s Session, opts Options, convert sessionFunc) (r Result) {
	r.Session = s
	defer func() {
		if v := recover(); v != nil {
			r.Path = ""
			r.Err = fmt.Errorf("panic: %v\n\n%s", v, debug.Stack())
		}
		if r.Err == nil {
			return
		}
		name := errorName(i, s)
		opts.Logger.Error("Session failed", "session", name, "error", r.Err)
		path, err := writeErrorFile(opts.outputDir(), name, s, r.Err)
		if err != nil {
			opts.Logger.Error("Failed to write error file", "session", name, "error", err)
		}
		r.Path = path
	}()
	r.Path, r.Err = convert(ctx, s, opts)
	return r
}

// errorName is the output name of s, or a positional one when it cannot be
// derived from the inputs.
func errorName(i int, s Session) string {
	if p, err := Lookup(s.Dataset); err == nil {
		if name, err := p.fileName(s); err == nil {
			return name
		}
	}
	return fmt.Sprintf("session-%03d.nwb", i+1)
}

func writeErrorFile(dir, name string, s Session, cause error) (string, error) {
	kwargs, err := yaml.Marshal(s)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "ERROR_"+name+".txt")
	body := fmt.Sprintf("session_to_nwb_kwargs: \n%s\n\n%v\n", kwargs, cause)
	return path, os.WriteFile(path, []byte(body), 0644)
}
