package ecephys

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/align"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// ErrNoTTL is returned when a recording has no TTL events for its stream.
var ErrNoTTL = errors.New("no TTL events for stream")

const oebinName = "structure.oebin"

type oebin struct {
	Continuous []oebinStream `json:"continuous"`
	Events     []oebinEvents `json:"events"`
}

type oebinStream struct {
	FolderName  string         `json:"folder_name"`
	StreamName  string         `json:"stream_name"`
	SampleRate  float64        `json:"sample_rate"`
	NumChannels int            `json:"num_channels"`
	Channels    []oebinChannel `json:"channels"`
}

type oebinChannel struct {
	ChannelName string  `json:"channel_name"`
	BitVolts    float64 `json:"bit_volts"`
	Units       string  `json:"units"`
}

type oebinEvents struct {
	FolderName  string `json:"folder_name"`
	ChannelName string `json:"channel_name"`
	StreamName  string `json:"stream_name"`
}

func (s oebinStream) folder() string { return strings.TrimSuffix(s.FolderName, "/") }

// OpenEphys is one continuous stream of an Open Ephys binary recording.
type OpenEphys struct {
	dir    string
	stream oebinStream
	events []oebinEvents
	raw    *Raw
}

// OpenOpenEphys finds the first structure.oebin under folder and maps the
// continuous stream named stream. Stream may be qualified with its record
// node as in "Record Node 102#Neuropix-PXI-100.ProbeA"; an empty stream
// selects the only one.
func OpenOpenEphys(folder, stream string) (*OpenEphys, error) {
	node, name := "", stream
	if i := strings.Index(stream, "#"); i >= 0 {
		node, name = stream[:i], stream[i+1:]
	}
	path, err := findOebin(folder, node)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var layout oebin
	if err := json.Unmarshal(b, &layout); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	s, err := selectStream(layout.Continuous, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.NumChannels == 0 {
		s.NumChannels = len(s.Channels)
	}
	if len(s.Channels) != s.NumChannels {
		return nil, fmt.Errorf("%s: stream %q lists %d channels for num_channels %d", path, s.folder(), len(s.Channels), s.NumChannels)
	}
	if s.SampleRate <= 0 {
		return nil, fmt.Errorf("%s: stream %q has no sample_rate", path, s.folder())
	}

	dir := filepath.Dir(path)
	raw, err := OpenRaw(filepath.Join(dir, "continuous", s.folder(), "continuous.dat"), s.NumChannels, 0)
	if err != nil {
		return nil, err
	}
	var events []oebinEvents
	for _, e := range layout.Events {
		folder := strings.TrimSuffix(e.FolderName, "/")
		if strings.HasPrefix(folder, s.folder()+"/") || (s.StreamName != "" && e.StreamName == s.StreamName) {
			events = append(events, e)
		}
	}
	return &OpenEphys{dir: dir, stream: s, events: events, raw: raw}, nil
}

func findOebin(folder, node string) (string, error) {
	var found []string
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == oebinName {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(found)
	for _, p := range found {
		if node == "" || strings.Contains(filepath.ToSlash(p), "/"+node+"/") {
			return p, nil
		}
	}
	if node != "" {
		return "", fmt.Errorf("no %s for record node %q under %s", oebinName, node, folder)
	}
	return "", fmt.Errorf("no %s under %s", oebinName, folder)
}

func selectStream(streams []oebinStream, name string) (oebinStream, error) {
	if name == "" {
		if len(streams) == 1 {
			return streams[0], nil
		}
		names := make([]string, len(streams))
		for i, s := range streams {
			names[i] = s.folder()
		}
		return oebinStream{}, fmt.Errorf("stream name required, have %s", strings.Join(names, ", "))
	}
	for _, s := range streams {
		if s.folder() == name || s.StreamName == name {
			return s, nil
		}
	}
	return oebinStream{}, fmt.Errorf("no continuous stream %q", name)
}

func (o *OpenEphys) Name() string        { return o.stream.folder() }
func (o *OpenEphys) Rate() float64       { return o.stream.SampleRate }
func (o *OpenEphys) Samples() int        { return o.raw.Samples() }
func (o *OpenEphys) Data(n int) nwb.Data { return o.raw.Data(n) }
func (o *OpenEphys) Close() error        { return o.raw.Close() }

// Channels converts bit_volts to volts per bit.
func (o *OpenEphys) Channels() []Channel {
	out := make([]Channel, len(o.stream.Channels))
	for i, c := range o.stream.Channels {
		out[i] = Channel{Name: c.ChannelName, Conversion: c.BitVolts * unitScale(c.Units)}
	}
	return out
}

func unitScale(units string) float64 {
	switch strings.ToLower(units) {
	case "v":
		return 1
	case "mv":
		return 1e-3
	default:
		return 1e-6
	}
}

// Timestamps returns the native time in seconds of every sample, or nil
// when the stream has no timestamps.npy.
func (o *OpenEphys) Timestamps() ([]float64, error) {
	dir := filepath.Join(o.dir, "continuous", o.stream.folder())
	if _, err := os.Stat(filepath.Join(dir, "timestamps.npy")); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return o.times(dir)
}

// times reads timestamps.npy from dir. Recordings that also carry
// sample_numbers.npy store seconds; older ones store sample numbers.
func (o *OpenEphys) times(dir string) ([]float64, error) {
	ts, err := readNumbers(filepath.Join(dir, "timestamps.npy"))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, "sample_numbers.npy")); err == nil {
		return ts, nil
	}
	for i := range ts {
		ts[i] /= o.stream.SampleRate
	}
	return ts, nil
}

// TTLTimes returns the rising edges of the first TTL line of the stream.
func (o *OpenEphys) TTLTimes() ([]float64, error) {
	for _, e := range o.events {
		dir := filepath.Join(o.dir, "events", strings.TrimSuffix(e.FolderName, "/"))
		if !strings.Contains(filepath.Base(dir), "TTL") {
			continue
		}
		times, err := o.times(dir)
		if err != nil {
			return nil, err
		}
		statesPath := filepath.Join(dir, "states.npy")
		if _, err := os.Stat(statesPath); err != nil {
			statesPath = filepath.Join(dir, "channel_states.npy")
		}
		states, err := readNumbers(statesPath)
		if err != nil {
			return nil, err
		}
		return align.RisingEdges(times, states)
	}
	return nil, fmt.Errorf("%s: %w", o.stream.folder(), ErrNoTTL)
}
