// Package audio converts the ultrasonic microphone array recordings.
package audio

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

const (
	DefaultChannels = 4
	DefaultRate     = 192000.0
	// StubSamples is one second at the default rate.
	StubSamples = 192000
)

// Options configures an Interface.
type Options struct {
	Channels int
	// Stub keeps only the first StubSamples frames.
	Stub   bool
	Logger *slog.Logger
}

// Interface converts one .mic file.
type Interface struct {
	convert.Clock

	path   string
	mic    *Mic
	stub   bool
	logger *slog.Logger
}

// New maps the recording at path.
func New(path string, opts Options) (*Interface, error) {
	if opts.Channels == 0 {
		opts.Channels = DefaultChannels
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	mic, err := OpenMic(path, opts.Channels)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger.With("interface", "audio")
	logger.Debug("Mapped microphone recording", "file", path, "samples", mic.Samples(),
		"size", humanize.Bytes(uint64(mic.Samples()*opts.Channels*bytesPerSample)))
	return &Interface{path: path, mic: mic, stub: opts.Stub, logger: logger}, nil
}

// NumSamples is the number of frames that will be written.
func (a *Interface) NumSamples() int {
	if a.stub {
		return min(a.mic.Samples(), StubSamples)
	}
	return a.mic.Samples()
}

// Close unmaps the recording. Call it after the file has been written.
func (a *Interface) Close() error { return a.mic.Close() }

// StartTime reads the recording start from the last two underscore
// separated parts of the file name, as in "mic_20240115_143000.mic".
func (a *Interface) StartTime(loc *time.Location) (time.Time, error) {
	return StartTimeFromName(a.path, loc)
}

// StartTimeFromName parses "<prefix>_YYYYMMDD_HHMMSS.<ext>" in loc.
func StartTimeFromName(path string, loc *time.Location) (time.Time, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("file name %q has no date and time parts", filepath.Base(path))
	}
	stamp := strings.Join(parts[len(parts)-2:], "_")
	t, err := time.ParseInLocation("20060102_150405", stamp, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("file name %q: %w", filepath.Base(path), err)
	}
	return t, nil
}

func (a *Interface) DescribeDefaults(md *metadata.Metadata) error {
	if md.Audio.Name == "" {
		md.Audio.Name = "AudioRecording"
	}
	if md.Audio.Description == "" {
		md.Audio.Description = "Ultrasonic microphone recording."
	}
	return nil
}

func (a *Interface) ValidateMetadata(md *metadata.Metadata) error {
	if md.Audio.Rate <= 0 {
		return fmt.Errorf("%w: Audio: 'rate' must be > 0, got: %g", metadata.ErrInvalid, md.Audio.Rate)
	}
	if md.Audio.NumChannels != 0 && md.Audio.NumChannels != a.mic.channels {
		return fmt.Errorf("%w: Audio: 'num_channels' is %d but the recording is read with %d", metadata.ErrInvalid, md.Audio.NumChannels, a.mic.channels)
	}
	return nil
}

func (a *Interface) Append(f *nwb.File, md *metadata.Metadata) error {
	n := a.NumSamples()
	unit := md.Audio.Unit
	if unit == "" {
		unit = "V"
	}
	series := &nwb.TimeSeries{
		Name:        md.Audio.Name,
		Description: md.Audio.Description,
		Unit:        unit,
		Data:        a.mic.Data(n),
	}
	if ts := a.AlignedTimestamps(); ts != nil {
		if nwb.Rows(ts) != n {
			return fmt.Errorf("%d aligned timestamps for %d samples", nwb.Rows(ts), n)
		}
		series.Timestamps = ts
	} else {
		series.Rate = md.Audio.Rate
		series.StartingTime = -a.TimeOffset()
	}
	if err := f.AddAcquisition(series); err != nil {
		return err
	}
	return convert.AddDevices(f, md.Audio.Microphones)
}
