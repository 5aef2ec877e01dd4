package service

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/config"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/dataset"
)

// Service represents the conversion operations available to the CLI
type Service interface {
	// Conversion operations
	ConvertSession(ctx context.Context, s dataset.Session) (string, error)
	ConvertDataset(ctx context.Context) ([]dataset.Result, error)

	// Information operations
	Sessions() ([]dataset.Session, error)
	ResolveMetadata(s dataset.Session) ([]byte, error)
	ListOutputs() ([]OutputInfo, error)

	// Configuration operations
	GetConfig() *config.Config
	GetLastError() string
}

// OutputInfo describes a converted file in the output directory
type OutputInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Stub         bool      `json:"stub"`
	Failed       bool      `json:"failed"`
}

// ConversionService is the main service implementation
type ConversionService struct {
	cfg    *config.Config
	fsys   afero.Fs
	logger *slog.Logger

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service for the dataset selected in cfg. A nil fsys reads
// the OS filesystem.
func New(cfg *config.Config, fsys afero.Fs, logger *slog.Logger) Service {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversionService{
		cfg:    cfg,
		fsys:   fsys,
		logger: logger,
	}
}

// options translates the resolved config into conversion options.
func (s *ConversionService) options() (dataset.Options, error) {
	loc, err := s.cfg.Location()
	if err != nil {
		return dataset.Options{}, fmt.Errorf("invalid timezone %s: %w", s.cfg.Timezone, err)
	}
	return dataset.Options{
		OutputDir:    s.cfg.OutputDirectory,
		Backend:      s.cfg.Backend,
		ChunkSize:    s.cfg.ChunkSize,
		MetadataFile: s.cfg.MetadataFile,
		Stub:         s.cfg.Stub,
		Location:     loc,
		Logger:       s.logger,
	}, nil
}

// ConvertSession converts a single session of the configured dataset
func (s *ConversionService) ConvertSession(ctx context.Context, session dataset.Session) (string, error) {
	s.clearLastError()
	if session.Dataset == "" {
		session.Dataset = s.cfg.Dataset
	}
	path, err := s.convertSession(ctx, session)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to convert session: %v", err))
		return "", err
	}
	return path, nil
}

func (s *ConversionService) convertSession(ctx context.Context, session dataset.Session) (string, error) {
	opts, err := s.options()
	if err != nil {
		return "", err
	}
	return dataset.SessionToNWB(ctx, session, opts)
}

// ConvertDataset converts every session of the configured dataset
func (s *ConversionService) ConvertDataset(ctx context.Context) ([]dataset.Result, error) {
	s.clearLastError()
	results, err := s.convertDataset(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to convert dataset: %v", err))
		return results, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		s.setLastError(fmt.Sprintf("%d of %d sessions failed", failed, len(results)))
	}
	return results, nil
}

func (s *ConversionService) convertDataset(ctx context.Context) ([]dataset.Result, error) {
	if s.cfg.SessionsFile == "" && s.cfg.DataDirectory == "" {
		return nil, errNoSessions(s.cfg.Dataset)
	}
	opts, err := s.options()
	if err != nil {
		return nil, err
	}
	s.logger.Info("Converting dataset", "dataset", s.cfg.Dataset, "workers", s.cfg.Workers, "stub", s.cfg.Stub)

	switch {
	case s.cfg.SessionsFile != "":
		sessions, err := dataset.LoadSessions(s.cfg.SessionsFile, s.cfg.Dataset)
		if err != nil {
			return nil, err
		}
		return dataset.RunBatch(ctx, sessions, opts, s.cfg.Workers)
	default:
		return dataset.DatasetToNWB(ctx, s.fsys, s.cfg.Dataset, s.cfg.DataDirectory, opts, s.cfg.Workers)
	}
}

func errNoSessions(name string) error {
	return fmt.Errorf("dataset %s has no data_directory or sessions_file configured", name)
}

// Sessions lists the sessions of the configured dataset, from the sessions
// file when one is configured and from the raw data directory otherwise.
func (s *ConversionService) Sessions() ([]dataset.Session, error) {
	if s.cfg.SessionsFile != "" {
		return dataset.LoadSessions(s.cfg.SessionsFile, s.cfg.Dataset)
	}
	if s.cfg.DataDirectory == "" {
		return nil, errNoSessions(s.cfg.Dataset)
	}
	return dataset.Discover(s.fsys, s.cfg.Dataset, s.cfg.DataDirectory)
}

// ResolveMetadata returns the metadata YAML a conversion of session would
// write, without writing anything.
func (s *ConversionService) ResolveMetadata(session dataset.Session) ([]byte, error) {
	if session.Dataset == "" {
		session.Dataset = s.cfg.Dataset
	}
	opts, err := s.options()
	if err != nil {
		return nil, err
	}
	p, err := dataset.Prepare(session, opts)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return p.Metadata.YAML()
}

// ListOutputs returns the NWB files and error reports of the output
// directory, newest first.
func (s *ConversionService) ListOutputs() ([]OutputInfo, error) {
	var outputs []OutputInfo
	for _, dir := range []string{s.cfg.OutputDirectory, filepath.Join(s.cfg.OutputDirectory, dataset.StubDir)} {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read output directory: %w", err)
		}

		for _, entry := range entries {
			name := entry.Name()
			failed := strings.HasPrefix(name, "ERROR_")
			if !failed && !strings.HasSuffix(name, ".nwb") {
				continue
			}
			path := filepath.Join(dir, name)
			info, err := entry.Info()
			if err != nil {
				slog.Warn("Failed to get file info", "file", name, "error", err)
				continue
			}
			size := info.Size()
			if entry.IsDir() {
				// zarr stores are directories
				size, err = dirSize(path)
				if err != nil {
					slog.Warn("Failed to size output", "file", name, "error", err)
				}
			}
			outputs = append(outputs, OutputInfo{
				Name:         name,
				Path:         path,
				Size:         size,
				SizeHuman:    humanize.Bytes(uint64(size)),
				ModTime:      info.ModTime(),
				ModTimeHuman: humanize.Time(info.ModTime()),
				Stub:         dir != s.cfg.OutputDirectory,
				Failed:       failed,
			})
		}
	}

	sort.Slice(outputs, func(i, j int) bool {
		return outputs[i].ModTime.After(outputs[j].ModTime)
	})
	return outputs, nil
}

func dirSize(root string) (int64, error) {
	var size int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}

// GetConfig returns the current configuration
func (s *ConversionService) GetConfig() *config.Config {
	return s.cfg
}

// GetLastError returns the last error message (thread-safe)
func (s *ConversionService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *ConversionService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	s.logger.Error("Service error occurred", "error_message", err)
}

func (s *ConversionService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
