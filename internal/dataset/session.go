package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cast"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwbio"
)

// Prepared is a session whose interfaces are open and whose metadata is
// resolved, ready to run.
type Prepared struct {
	Converter *convert.Converter
	Metadata  *metadata.Metadata
	Path      string
}

// Close releases the interfaces of a session that will not run.
func (p *Prepared) Close() error { return closeAll(p.Converter) }

func closeAll(c *convert.Converter) error {
	var errs []error
	for _, name := range c.Names() {
		iface, _ := c.Interface(name)
		if cl, ok := iface.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Prepare opens the interfaces of s and resolves its metadata without
// writing anything.
func Prepare(s Session, opts Options) (*Prepared, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	p, err := Lookup(s.Dataset)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger.With("dataset", p.Name)
	c := convert.New(logger)
	if err := p.Build(c, s, opts); err != nil {
		closeAll(c)
		return nil, err
	}

	layers := []map[string]any{}
	defaults, err := metadata.DatasetDefaults(p.Name)
	if err != nil {
		closeAll(c)
		return nil, err
	}
	layers = append(layers, defaults)
	if opts.MetadataFile != "" {
		user, err := metadata.LoadFile(opts.MetadataFile)
		if err != nil {
			closeAll(c)
			return nil, err
		}
		layers = append(layers, user)
	}
	md, err := c.Metadata(layers...)
	if err != nil {
		closeAll(c)
		return nil, err
	}
	if err := p.Identify(md, s, opts.Location); err != nil {
		closeAll(c)
		return nil, fmt.Errorf("session identity: %w", err)
	}
	overrideIDs(md, s)
	if md.Subject.SubjectID == "" || md.NWBFile.SessionID == "" {
		closeAll(c)
		return nil, fmt.Errorf("%w: subject_id and session_id are required", metadata.ErrInvalid)
	}

	if p.Align != nil {
		c.Align = func(c *convert.Converter) error { return p.Align(c, s, md) }
	}
	path := filepath.Join(opts.outputDir(), nwb.FileName(md.Subject.SubjectID, md.NWBFile.SessionID))
	return &Prepared{Converter: c, Metadata: md, Path: path}, nil
}

// SessionToNWB converts one session and returns the written path.
func SessionToNWB(ctx context.Context, s Session, opts Options) (string, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return "", err
	}
	p, err := Prepare(s, opts)
	if err != nil {
		return "", err
	}
	opts.Logger.Info("Converting session", "dataset", s.Dataset,
		"subject", p.Metadata.Subject.SubjectID, "session", p.Metadata.NWBFile.SessionID, "stub", opts.Stub)
	out := convert.Output{
		Path:    p.Path,
		Backend: opts.Backend,
		Options: nwbio.Options{ChunkSize: opts.ChunkSize},
	}
	if err := p.Converter.Run(ctx, p.Metadata, out); err != nil {
		return "", err
	}
	return p.Path, nil
}

// inLocation keeps the wall clock of t and moves it to loc.
func inLocation(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// parseLocal reads an ISO date-time without zone as wall clock time in loc.
func parseLocal(s string, loc *time.Location) (time.Time, error) {
	return cast.ToTimeInDefaultLocationE(s, loc)
}
