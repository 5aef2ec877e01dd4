// Package behavior converts behavior logs (continuous streams, discrete and
// valued events, trial records) from lab .mat files.
package behavior

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/align"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/matfile"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// Layout selects how events are represented in the output.
type Layout int

const (
	// EventsTableLayout writes one events table whose rows point into an
	// event types table stored as task metadata.
	EventsTableLayout Layout = iota
	// AnnotatedLayout writes one Events object per event type, a table of
	// valued events, trials and epochs.
	AnnotatedLayout
	// WheelLayout writes only the wheel streams, which are logged on the
	// ephys clock already.
	WheelLayout
)

func (l Layout) String() string {
	switch l {
	case EventsTableLayout:
		return "events-table"
	case AnnotatedLayout:
		return "annotated"
	case WheelLayout:
		return "wheel"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

const timeSeriesName = "behavioral_time_series"

// Interface converts one behavior .mat file.
type Interface struct {
	convert.Clock

	path   string
	layout Layout
	logger *slog.Logger
	file   *matfile.Struct
}

// New checks that path exists and returns an interface for it.
func New(path string, layout Layout, logger *slog.Logger) (*Interface, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("behavior file: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Interface{path: path, layout: layout, logger: logger.With("interface", "behavior")}
	if layout == WheelLayout {
		b.MarkAligned()
	}
	return b, nil
}

func (b *Interface) load() (*matfile.Struct, error) {
	if b.file == nil {
		f, err := matfile.Load(b.path)
		if err != nil {
			return nil, err
		}
		b.file = f
	}
	return b.file, nil
}

func (b *Interface) DescribeDefaults(md *metadata.Metadata) error {
	if md.Behavior.Module.Name == "" {
		md.Behavior.Module = metadata.Module{Name: "behavior", Description: "Behavioral data from the experiment."}
	}
	return nil
}

func (b *Interface) ValidateMetadata(md *metadata.Metadata) error {
	return md.ValidateBehavior()
}

// StartingTimestamp is the first time of the first configured stream, the
// origin used when behavior timestamps are normalized.
func (b *Interface) StartingTimestamp(md *metadata.Metadata) (float64, error) {
	if len(md.Behavior.TimeSeries) == 0 {
		return 0, errors.New("no behavior time series configured")
	}
	f, err := b.load()
	if err != nil {
		return 0, err
	}
	ts, err := f.Float64sAt("continuous", md.Behavior.TimeSeries[0].SourceKey(), "time")
	if err != nil {
		return 0, err
	}
	start, ok := align.FirstFinite(ts)
	if !ok {
		return 0, fmt.Errorf("continuous.%s.time has no finite time", md.Behavior.TimeSeries[0].SourceKey())
	}
	return start, nil
}

func (b *Interface) Append(f *nwb.File, md *metadata.Metadata) error {
	file, err := b.load()
	if err != nil {
		return err
	}
	if b.layout != WheelLayout && b.AlignedTimestamps() != nil {
		return errors.New("behavior streams are aligned with an offset, not a timestamp vector")
	}
	switch b.layout {
	case EventsTableLayout:
		return b.appendEventsTable(f, md, file)
	case AnnotatedLayout:
		return b.appendAnnotated(f, md, file)
	case WheelLayout:
		return b.appendWheel(f, md, file)
	}
	return fmt.Errorf("unknown layout %v", b.layout)
}

func (b *Interface) module(f *nwb.File, md *metadata.Metadata) *nwb.ProcessingModule {
	return f.ProcessingModule(md.Behavior.Module.Name, md.Behavior.Module.Description)
}

func unitOr(s metadata.Series) string {
	if s.Unit == "" {
		return "a.u."
	}
	return s.Unit
}

// continuousSeries reads continuous.<key>.{time,value} for every configured
// stream. Streams missing from the file are skipped with a warning.
func (b *Interface) continuousSeries(file *matfile.Struct, md *metadata.Metadata) ([]*nwb.TimeSeries, error) {
	continuous, err := file.Struct("continuous")
	if err != nil {
		return nil, err
	}
	var out []*nwb.TimeSeries
	for _, s := range md.Behavior.TimeSeries {
		key := s.SourceKey()
		if !continuous.Has(key) {
			b.logger.Warn("Time series not found in file, skipping", "name", key, "file", b.path)
			continue
		}
		ts, err := continuous.Float64sAt(key, "time")
		if err != nil {
			return nil, err
		}
		values, err := continuous.Float64sAt(key, "value")
		if err != nil {
			return nil, err
		}
		out = append(out, &nwb.TimeSeries{
			Name:        s.Name,
			Description: s.Description,
			Unit:        unitOr(s),
			Data:        nwb.Vector(values),
			Timestamps:  nwb.Vector(align.Offset(ts, b.TimeOffset())),
		})
	}
	return out, nil
}

func (b *Interface) addTimeSeries(f *nwb.File, md *metadata.Metadata, series []*nwb.TimeSeries) error {
	if len(series) == 0 {
		return nil
	}
	return b.module(f, md).Add(&nwb.BehavioralTimeSeries{Name: timeSeriesName, Series: series})
}

// eventTimes returns events.<name>.time, and .value when valued. A name
// missing from the file yields no rows and a warning.
func (b *Interface) eventTimes(events *matfile.Struct, name string, valued bool) ([]float64, []float64, error) {
	if !events.Has(name) {
		b.logger.Warn("Event not found in file, skipping", "name", name, "file", b.path)
		return nil, nil, nil
	}
	times, err := events.Float64sAt(name, "time")
	if err != nil {
		return nil, nil, err
	}
	times = align.Offset(times, b.TimeOffset())
	if !valued {
		return times, nil, nil
	}
	values, err := events.Float64sAt(name, "value")
	if err != nil {
		return nil, nil, err
	}
	if len(values) != len(times) {
		b.logger.Warn("Event times and values differ in length, truncating", "name", name, "times", len(times), "values", len(values))
		n := min(len(times), len(values))
		times, values = times[:n], values[:n]
	}
	return times, values, nil
}
