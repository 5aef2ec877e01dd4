// Package ecephys converts extracellular recordings and their spike sorting.
package ecephys

import (
	"fmt"
	"log/slog"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/align"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// StubSamples is the number of frames written in stub mode.
const StubSamples = 100

// Channel is one recorded channel.
type Channel struct {
	Name string
	// Group names the metadata electrode group. Empty means the first one.
	Group string
	// Conversion is volts per stored unit.
	Conversion float64
}

// Source is a raw multichannel recording.
type Source interface {
	Name() string
	Rate() float64
	Samples() int
	Channels() []Channel
	// Data returns the first n frames as rows of int16 samples.
	Data(n int) nwb.Data
	// Timestamps returns one native time per sample, or nil for a fixed
	// rate starting at zero.
	Timestamps() ([]float64, error)
	Close() error
}

// Options configures a Recording.
type Options struct {
	Stub bool
	// Region selects the electrode location from BrainRegion.
	Region string
	// LocationGroup names the metadata electrode group whose location
	// applies to every group. Empty uses the first group.
	LocationGroup string
	// ZeroStart rebases native timestamps so the first sample is at zero.
	ZeroStart bool
	// Positions holds one (x, y) contact position per channel.
	Positions [][]float64
	Logger    *slog.Logger
}

// Recording converts a Source into electrodes and an ElectricalSeries.
type Recording struct {
	convert.Clock

	src    Source
	opts   Options
	logger *slog.Logger
}

func NewRecording(src Source, opts Options) (*Recording, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Positions != nil && len(opts.Positions) != len(src.Channels()) {
		return nil, fmt.Errorf("%d channel positions for %d channels", len(opts.Positions), len(src.Channels()))
	}
	for i, p := range opts.Positions {
		if len(p) < 2 {
			return nil, fmt.Errorf("channel %d position has %d coordinates", i, len(p))
		}
	}
	logger := opts.Logger.With("interface", "recording", "stream", src.Name())
	logger.Debug("Opened recording", "channels", len(src.Channels()), "samples", src.Samples(), "rate", src.Rate())
	return &Recording{src: src, opts: opts, logger: logger}, nil
}

// NewOpenEphys opens stream of the Open Ephys binary recording under folder.
func NewOpenEphys(folder, stream string, opts Options) (*Recording, error) {
	src, err := OpenOpenEphys(folder, stream)
	if err != nil {
		return nil, err
	}
	r, err := NewRecording(src, opts)
	if err != nil {
		src.Close()
		return nil, err
	}
	return r, nil
}

// NewWhiteMatter opens a two-shank WhiteMatter recording.
func NewWhiteMatter(path string, channels int, rate float64, opts Options) (*Recording, error) {
	src, err := OpenWhiteMatter(path, channels, rate, 2)
	if err != nil {
		return nil, err
	}
	if opts.LocationGroup == "" {
		opts.LocationGroup = "Shank1"
	}
	r, err := NewRecording(src, opts)
	if err != nil {
		src.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recording) Close() error { return r.src.Close() }

// NumSamples is the number of frames that will be written.
func (r *Recording) NumSamples() int {
	if r.opts.Stub {
		return min(r.src.Samples(), StubSamples)
	}
	return r.src.Samples()
}

// start is the native time treated as zero.
func (r *Recording) start() (float64, error) {
	if !r.opts.ZeroStart {
		return 0, nil
	}
	ts, err := r.src.Timestamps()
	if err != nil || len(ts) == 0 {
		return 0, err
	}
	return ts[0], nil
}

// TTLTimes returns the synchronization pulses on the recording clock.
func (r *Recording) TTLTimes() ([]float64, error) {
	ttl, ok := r.src.(interface{ TTLTimes() ([]float64, error) })
	if !ok {
		return nil, fmt.Errorf("%s: %w", r.src.Name(), ErrNoTTL)
	}
	times, err := ttl.TTLTimes()
	if err != nil {
		return nil, err
	}
	start, err := r.start()
	if err != nil {
		return nil, err
	}
	return align.Offset(times, start), nil
}

func (r *Recording) DescribeDefaults(md *metadata.Metadata) error {
	if md.Ecephys.ElectricalSeries.Name == "" {
		md.Ecephys.ElectricalSeries.Name = "ElectricalSeries"
	}
	if md.Ecephys.ElectricalSeries.Description == "" {
		md.Ecephys.ElectricalSeries.Description = "Acquisition traces for the ElectricalSeries."
	}
	return nil
}

func (r *Recording) ValidateMetadata(md *metadata.Metadata) error {
	if len(md.Ecephys.ElectrodeGroup) == 0 {
		return fmt.Errorf("%w: Ecephys: 'ElectrodeGroup' must not be empty", metadata.ErrInvalid)
	}
	if _, err := r.location(md); err != nil {
		return err
	}
	for _, c := range r.src.Channels() {
		if c.Group == "" {
			continue
		}
		if _, ok := metadataGroup(md, c.Group); !ok {
			return fmt.Errorf("%w: Ecephys: no ElectrodeGroup named %q for channel %s", metadata.ErrInvalid, c.Group, c.Name)
		}
	}
	return nil
}

func (r *Recording) location(md *metadata.Metadata) (string, error) {
	if r.opts.Region != "" {
		br, ok := md.BrainRegion[r.opts.Region]
		if !ok {
			return "", fmt.Errorf("%w: BrainRegion: unknown region %q", metadata.ErrInvalid, r.opts.Region)
		}
		return br.ElectrodeGroupLocation, nil
	}
	if r.opts.LocationGroup != "" {
		g, ok := metadataGroup(md, r.opts.LocationGroup)
		if !ok {
			return "", fmt.Errorf("%w: Ecephys: no ElectrodeGroup named %q", metadata.ErrInvalid, r.opts.LocationGroup)
		}
		return g.Location, nil
	}
	if len(md.Ecephys.ElectrodeGroup) == 0 {
		return "", fmt.Errorf("%w: Ecephys: 'ElectrodeGroup' must not be empty", metadata.ErrInvalid)
	}
	return md.Ecephys.ElectrodeGroup[0].Location, nil
}

func metadataGroup(md *metadata.Metadata, name string) (metadata.ElectrodeGroup, bool) {
	for _, g := range md.Ecephys.ElectrodeGroup {
		if g.Name == name {
			return g, true
		}
	}
	return metadata.ElectrodeGroup{}, false
}

func (r *Recording) Append(f *nwb.File, md *metadata.Metadata) error {
	if err := r.ValidateMetadata(md); err != nil {
		return err
	}
	location, _ := r.location(md)
	if err := convert.AddDevices(f, md.Ecephys.Device); err != nil {
		return err
	}
	electrodes, err := r.appendElectrodes(f, md, location)
	if err != nil {
		return err
	}

	n := r.NumSamples()
	channels := r.src.Channels()
	series := &nwb.ElectricalSeries{
		TimeSeries: nwb.TimeSeries{
			Name:        md.Ecephys.ElectricalSeries.Name,
			Description: md.Ecephys.ElectricalSeries.Description,
			Unit:        "volts",
			Data:        r.src.Data(n),
		},
		Electrodes: electrodes,
	}
	if c, ok := sharedConversion(channels); ok {
		series.Conversion = c
	} else {
		series.Conversion = 1
		series.ChannelConversion = make([]float64, len(channels))
		for i, ch := range channels {
			series.ChannelConversion[i] = ch.Conversion
		}
	}
	if err := r.setClock(&series.TimeSeries, n); err != nil {
		return err
	}
	return f.AddAcquisition(series)
}

func (r *Recording) setClock(s *nwb.TimeSeries, n int) error {
	if ts := r.AlignedTimestamps(); ts != nil {
		if nwb.Rows(ts) != n {
			return fmt.Errorf("%d aligned timestamps for %d samples", nwb.Rows(ts), n)
		}
		s.Timestamps = ts
		return nil
	}
	native, err := r.src.Timestamps()
	if err != nil {
		return err
	}
	if native == nil || r.opts.ZeroStart {
		s.Rate = r.src.Rate()
		s.StartingTime = -r.TimeOffset()
		return nil
	}
	if len(native) < n {
		return fmt.Errorf("%d timestamps for %d samples", len(native), n)
	}
	s.Timestamps = nwb.Vector(align.Offset(native[:n], r.TimeOffset()))
	return nil
}

// appendElectrodes adds the electrode groups used by the channels and one
// electrodes row per channel, returning the row indices.
func (r *Recording) appendElectrodes(f *nwb.File, md *metadata.Metadata, location string) ([]int, error) {
	channels := r.src.Channels()
	groups := make(map[string]*nwb.ElectrodeGroup)
	for _, c := range channels {
		name := c.Group
		if name == "" {
			name = md.Ecephys.ElectrodeGroup[0].Name
		}
		if _, ok := groups[name]; ok {
			continue
		}
		meta, _ := metadataGroup(md, name)
		device, ok := f.Device(meta.Device)
		if !ok {
			return nil, fmt.Errorf("electrode group %q: device %q not in Ecephys.Device", meta.Name, meta.Device)
		}
		g := &nwb.ElectrodeGroup{Name: meta.Name, Description: meta.Description, Location: location, Device: device}
		if err := f.AddElectrodeGroup(g); err != nil {
			return nil, err
		}
		groups[name] = g
	}

	t := f.Electrodes()
	extra := []nwb.Column{{Name: "brain_area", Description: "The brain area where the electrode is located.", DType: nwb.String}}
	if r.opts.Positions != nil {
		extra = append(extra,
			nwb.Column{Name: "rel_x", Description: "x position of the contact on the probe in micrometers.", DType: nwb.Float64},
			nwb.Column{Name: "rel_y", Description: "y position of the contact on the probe in micrometers.", DType: nwb.Float64},
		)
	}
	for _, c := range extra {
		if _, ok := t.Column(c.Name); ok {
			continue
		}
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}

	rows := make([]int, len(channels))
	for i, c := range channels {
		name := c.Group
		if name == "" {
			name = md.Ecephys.ElectrodeGroup[0].Name
		}
		values := map[string]any{"brain_area": location}
		if r.opts.Positions != nil {
			values["rel_x"] = r.opts.Positions[i][0]
			values["rel_y"] = r.opts.Positions[i][1]
		}
		row, err := f.AddElectrode(groups[name], c.Name, location, values)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	return rows, nil
}

func sharedConversion(channels []Channel) (float64, bool) {
	if len(channels) == 0 {
		return 1, true
	}
	for _, c := range channels[1:] {
		if c.Conversion != channels[0].Conversion {
			return 0, false
		}
	}
	return channels[0].Conversion, true
}

// LoadPositions reads a Phy channel_positions.npy file.
func LoadPositions(path string) ([][]float64, error) {
	return readMatrix(path)
}
