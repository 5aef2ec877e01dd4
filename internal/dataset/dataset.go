// Package dataset holds the per-dataset conversion policies and the
// session and batch drivers built on them.
package dataset

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/afero"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// DefaultTimezone is where every lab recorded.
const DefaultTimezone = "US/Eastern"

// StubDir is the output subdirectory of stub conversions.
const StubDir = "nwb_stub"

// Session holds the inputs of one session. Fields a dataset does not use
// are ignored.
type Session struct {
	Dataset string `yaml:"dataset"`

	BehaviorFile  string   `yaml:"behavior_file,omitempty"`
	EphysFolder   string   `yaml:"ephys_folder,omitempty"`
	EphysFile     string   `yaml:"ephys_file,omitempty"`
	NumChannels   int      `yaml:"num_channels,omitempty"`
	SortingFolder string   `yaml:"sorting_folder,omitempty"`
	StimulusFile  string   `yaml:"stimulus_file,omitempty"`
	AudioFile     string   `yaml:"audio_file,omitempty"`
	VideoFiles    []string `yaml:"video_files,omitempty"`
	PoseFile      string   `yaml:"pose_file,omitempty"`
	ISOIFolder    string   `yaml:"isoi_folder,omitempty"`

	BrainRegion string `yaml:"brain_region,omitempty"`
	HasOpto     bool   `yaml:"has_opto,omitempty"`

	// SubjectID and SessionID override the derived identifiers.
	SubjectID string `yaml:"subject_id,omitempty"`
	SessionID string `yaml:"session_id,omitempty"`
}

// Options are shared by every session of a run.
type Options struct {
	OutputDir string
	Backend   string
	ChunkSize datasize.ByteSize
	// MetadataFile is a YAML file applied over the dataset's defaults.
	MetadataFile string
	Stub         bool
	Location     *time.Location
	Logger       *slog.Logger
}

func (o Options) withDefaults() (Options, error) {
	if o.Backend == "" {
		o.Backend = "zarr"
	}
	if o.Location == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			return o, fmt.Errorf("failed to load timezone: %w", err)
		}
		o.Location = loc
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}

// outputDir is where files of this run go.
func (o Options) outputDir() string {
	if o.Stub {
		return filepath.Join(o.OutputDir, StubDir)
	}
	return o.OutputDir
}

// Policy is what differs between datasets.
type Policy struct {
	Name        string
	Description string

	// Build registers the session's interfaces.
	Build func(c *convert.Converter, s Session, opts Options) error
	// Align puts every registered stream on the session clock.
	Align func(c *convert.Converter, s Session, md *metadata.Metadata) error
	// Identify fills the subject, session and start time.
	Identify func(md *metadata.Metadata, s Session, loc *time.Location) error
	// Discover lists the sessions under a raw data directory. Nil when the
	// dataset has no batch layout.
	Discover func(fsys afero.Fs, dataDir string) ([]Session, error)
	// FileName names the output before any file is read. Nil falls back to
	// the overrides of the session.
	FileName func(s Session) (string, error)
}

var policies = map[string]*Policy{}

func register(p *Policy) {
	if _, dup := policies[p.Name]; dup {
		panic("dataset: duplicate policy " + p.Name)
	}
	policies[p.Name] = p
}

// Lookup returns the policy of a dataset.
func Lookup(name string) (*Policy, error) {
	p, ok := policies[name]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q (available: %v)", name, Names())
	}
	return p, nil
}

// Names lists the registered datasets.
func Names() []string {
	names := make([]string, 0, len(policies))
	for n := range policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// fileName names the output of s under p.
func (p *Policy) fileName(s Session) (string, error) {
	if s.SubjectID != "" && s.SessionID != "" {
		return nwb.FileName(s.SubjectID, s.SessionID), nil
	}
	if p.FileName == nil {
		return "", fmt.Errorf("%s: subject_id and session_id are required", p.Name)
	}
	return p.FileName(s)
}

// overrideIDs applies the session's explicit identifiers.
func overrideIDs(md *metadata.Metadata, s Session) {
	if s.SubjectID != "" {
		md.Subject.SubjectID = s.SubjectID
	}
	if s.SessionID != "" {
		md.NWBFile.SessionID = s.SessionID
	}
}
