package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwbio"
)

// AlignFunc computes the session reference clock and pushes aligned
// timestamps or offsets into the registered interfaces.
type AlignFunc func(c *Converter) error

// Output is where and how a converted file is written.
type Output struct {
	Path    string
	Backend string
	Options nwbio.Options
}

type stage struct {
	name  string
	iface Interface
}

// Converter drives the interfaces of one session in registration order.
type Converter struct {
	Align  AlignFunc
	Logger *slog.Logger

	stages []stage
	ran    bool
}

// New returns an empty converter.
func New(logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{Logger: logger}
}

// Register appends an interface. Append runs in registration order, so
// stages whose records others refer to are registered first.
func (c *Converter) Register(name string, iface Interface) error {
	if iface == nil {
		return fmt.Errorf("interface %q is nil", name)
	}
	if _, ok := c.Interface(name); ok {
		return fmt.Errorf("interface %q: %w", name, nwb.ErrDuplicateName)
	}
	c.stages = append(c.stages, stage{name: name, iface: iface})
	return nil
}

// Interface returns the interface registered under name.
func (c *Converter) Interface(name string) (Interface, bool) {
	for _, s := range c.stages {
		if s.name == name {
			return s.iface, true
		}
	}
	return nil, false
}

// Names lists the registered interfaces in order.
func (c *Converter) Names() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.name
	}
	return names
}

// Metadata resolves the session metadata: base values, each interface's
// defaults, then every override layer in order.
func (c *Converter) Metadata(overrides ...map[string]any) (*metadata.Metadata, error) {
	md := metadata.Base()
	for _, s := range c.stages {
		if err := s.iface.DescribeDefaults(md); err != nil {
			return nil, fmt.Errorf("%s defaults: %w", s.name, err)
		}
	}
	return metadata.Resolve(md, overrides...)
}

func (c *Converter) validate(md *metadata.Metadata) error {
	if err := md.Validate(); err != nil {
		return err
	}
	for _, s := range c.stages {
		if v, ok := s.iface.(MetadataValidator); ok {
			if err := v.ValidateMetadata(md); err != nil {
				return fmt.Errorf("%s: %w", s.name, err)
			}
		}
	}
	return nil
}

// Build validates md, aligns once and appends every stage to a new file.
func (c *Converter) Build(ctx context.Context, md *metadata.Metadata) (*nwb.File, error) {
	if c.ran {
		return nil, ErrAlreadyRun
	}
	c.ran = true

	if err := c.validate(md); err != nil {
		return nil, err
	}
	if c.Align != nil {
		if err := c.Align(c); err != nil {
			return nil, fmt.Errorf("temporal alignment: %w", err)
		}
	}
	for _, s := range c.stages {
		if a, ok := s.iface.(TimeAligner); ok && !a.IsAligned() {
			return nil, fmt.Errorf("%s: %w", s.name, ErrNotAligned)
		}
	}

	f := NewFile(md)
	for _, s := range c.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.Logger.Debug("Appending", "interface", s.name)
		if err := s.iface.Append(f, md); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return f, nil
}

// Run builds the file and writes it to out. Interfaces that implement
// io.Closer are closed once the file is written or the run fails.
func (c *Converter) Run(ctx context.Context, md *metadata.Metadata, out Output) (err error) {
	if out.Path == "" {
		return errors.New("no output path")
	}
	defer func() {
		for _, s := range c.stages {
			if cl, ok := s.iface.(io.Closer); ok {
				if cerr := cl.Close(); cerr != nil && err == nil {
					err = fmt.Errorf("%s: %w", s.name, cerr)
				}
			}
		}
	}()
	f, err := c.Build(ctx, md)
	if err != nil {
		return err
	}
	w, err := nwbio.New(out.Backend, out.Options)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out.Path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	c.Logger.Info("Writing NWB file", "path", out.Path, "backend", out.Backend)
	return w.Write(ctx, f, out.Path)
}

// NewFile creates an empty container from the session fields of md.
func NewFile(md *metadata.Metadata) *nwb.File {
	n := md.NWBFile
	f := nwb.NewFile(n.Identifier, n.SessionDescription, n.SessionStartTime)
	f.SessionID = n.SessionID
	f.Experimenter = n.Experimenter
	f.Institution = n.Institution
	f.Lab = n.Lab
	f.ExperimentDescription = n.ExperimentDescription
	f.Keywords = n.Keywords
	f.RelatedPublications = n.RelatedPublications
	f.Surgery = n.Surgery
	f.Virus = n.Virus
	f.Pharmacology = n.Pharmacology
	f.Stimulus = n.Stimulus
	f.Notes = n.Notes
	s := md.Subject
	f.Subject = &nwb.Subject{
		SubjectID:   s.SubjectID,
		Species:     s.Species,
		Sex:         s.Sex,
		Age:         s.Age,
		Strain:      s.Strain,
		Genotype:    s.Genotype,
		Description: s.Description,
		Weight:      s.Weight,
	}
	return f
}

// AddDevices registers every device of a metadata list.
func AddDevices(f *nwb.File, devices []nwb.Device) error {
	for i := range devices {
		d := devices[i]
		if _, err := f.AddDevice(&d); err != nil {
			return err
		}
	}
	return nil
}
