// Package stimulus converts the auditory and visual stimulus log of the
// threat-response sessions.
package stimulus

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/align"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/matfile"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// Epochs are the sound batteries a session may contain, in presentation order.
var Epochs = []string{"fullBattery", "exploration", "threat"}

const templateDescription = "Time series of audio stimulus. See AudioStimulusTable for presentation times."

// Interface converts one stimulus .mat file.
type Interface struct {
	path   string
	logger *slog.Logger
	file   *matfile.Struct
}

func New(path string, logger *slog.Logger) (*Interface, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stimulus file: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interface{path: path, logger: logger.With("interface", "stimulus")}, nil
}

func (s *Interface) load() (*matfile.Struct, error) {
	if s.file == nil {
		f, err := matfile.Load(s.path)
		if err != nil {
			return nil, err
		}
		s.file = f
	}
	return s.file, nil
}

// DescribeDefaults takes the subject and session ids from the settings
// the stimulus software saved.
func (s *Interface) DescribeDefaults(md *metadata.Metadata) error {
	file, err := s.load()
	if err != nil {
		return err
	}
	animal, err := file.StringAt("settings", "animalID")
	if err != nil {
		return err
	}
	date, err := file.StringAt("settings", "date_str")
	if err != nil {
		return err
	}
	md.Subject.SubjectID = animal
	md.NWBFile.SessionID = date
	return nil
}

// AudioAnchors returns the (cumulative microphone sample, TTL time) pairs
// recorded at every synchronization pulse. Files that store per-pulse sample
// counts instead of running totals, in samplesPerTTL or as a decreasing
// cumulativeSamples, are accumulated.
func (s *Interface) AudioAnchors() ([]float64, []float64, error) {
	file, err := s.load()
	if err != nil {
		return nil, nil, err
	}
	audio, err := file.Struct("audio")
	if err != nil {
		return nil, nil, err
	}
	times, err := audio.Float64sAt("ttlTimes")
	if err != nil {
		return nil, nil, err
	}
	var samples []float64
	if audio.Has("cumulativeSamples") {
		samples, err = audio.Float64sAt("cumulativeSamples")
	} else {
		var counts []float64
		counts, err = audio.Float64sAt("samplesPerTTL")
		samples = align.CumulativeSum(counts)
	}
	if err != nil {
		return nil, nil, err
	}
	if !align.IsMonotonic(samples) {
		s.logger.Warn("Sample counts decrease, treating them as per-pulse counts", "file", s.path)
		samples = align.CumulativeSum(samples)
	}
	if len(samples) != len(times) {
		return nil, nil, fmt.Errorf("%d sample counts for %d TTL times", len(samples), len(times))
	}
	return samples, times, nil
}

// CameraFrameTimes returns cam.frameTimes, or nil when the file has none.
func (s *Interface) CameraFrameTimes() ([]float64, error) {
	file, err := s.load()
	if err != nil {
		return nil, err
	}
	if !file.Has("cam") {
		return nil, nil
	}
	cam, err := file.Struct("cam")
	if err != nil {
		return nil, err
	}
	if !cam.Has("frameTimes") {
		return nil, nil
	}
	return cam.Float64sAt("frameTimes")
}

func (s *Interface) Append(f *nwb.File, md *metadata.Metadata) error {
	file, err := s.load()
	if err != nil {
		return err
	}
	if err := s.appendAudio(f, file); err != nil {
		return err
	}
	if err := convert.AddDevices(f, md.Stimulus.Speakers); err != nil {
		return err
	}
	return s.appendVisual(f, md, file)
}

func (s *Interface) appendAudio(f *nwb.File, file *matfile.Struct) error {
	table := nwb.NewTable("AudioStimulus", "Table of audio stimulus presentations")
	table.AddColumn(nwb.Column{Name: "presentation_time", Description: "Time of stimulus presentation", DType: nwb.Float64})
	table.AddColumn(nwb.Column{Name: "stimulus_name", Description: "Name of the stimulus ex. sound01_F2000_L65_D0.1+0.005", DType: nwb.String})

	sounds, err := file.Struct("sounds")
	if err != nil {
		return err
	}
	for _, epoch := range Epochs {
		if !sounds.Has(epoch) {
			s.logger.Warn("Sound epoch not found in file, skipping", "name", epoch, "file", s.path)
			continue
		}
		ep, err := sounds.Struct(epoch)
		if err != nil {
			return err
		}
		count, err := ep.Float64At("button_cnt")
		if err != nil {
			return fmt.Errorf("%s: %w", epoch, err)
		}
		if count == 0 {
			continue
		}
		if err := s.appendEpoch(f, table, epoch, ep); err != nil {
			return fmt.Errorf("%s: %w", epoch, err)
		}
	}
	return f.AddStimulus(table)
}

func (s *Interface) appendEpoch(f *nwb.File, table *nwb.Table, epoch string, ep *matfile.Struct) error {
	paths, err := field(ep, "wavFiles_fullpath", matfile.Strings)
	if err != nil {
		return err
	}
	rates, err := ep.Float64sAt("soundFS")
	if err != nil {
		return err
	}
	dataValue, err := ep.Require("soundData")
	if err != nil {
		return err
	}
	stampsValue, err := ep.Require("soundTimeStamps")
	if err != nil {
		return err
	}
	data := matfile.Cells(dataValue)
	stamps := matfile.Cells(stampsValue)

	n := min(len(paths), len(rates), len(data), len(stamps))
	if n != len(paths) || n != len(rates) || n != len(data) || n != len(stamps) {
		s.logger.Warn("Sound fields differ in length, truncating", "epoch", epoch,
			"paths", len(paths), "rates", len(rates), "data", len(data), "timestamps", len(stamps))
	}
	for i := 0; i < n; i++ {
		name := windowsStem(paths[i])
		if _, ok := f.StimulusTemplate(name); !ok {
			waveform, err := firstRow(data[i])
			if err != nil {
				return fmt.Errorf("sound %s: %w", name, err)
			}
			template := &nwb.TimeSeries{
				Name:        name,
				Description: templateDescription,
				Unit:        "a.u.",
				Data:        nwb.Vector(waveform),
				Rate:        rates[i],
			}
			if err := f.AddStimulusTemplate(template); err != nil {
				return err
			}
		}
		times, err := matfile.Float64s(stamps[i])
		if err != nil {
			return fmt.Errorf("sound %s: %w", name, err)
		}
		for _, t := range times {
			if err := table.AddRow(map[string]any{"presentation_time": t, "stimulus_name": name}); err != nil {
				return err
			}
		}
	}
	return nil
}

func field[T any](st *matfile.Struct, name string, conv func(matfile.Value) (T, error)) (T, error) {
	var zero T
	v, err := st.Require(name)
	if err != nil {
		return zero, err
	}
	out, err := conv(v)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// windowsStem returns the file name without extension of a path saved on
// Windows or POSIX.
func windowsStem(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.LastIndex(path, "."); i > 0 {
		path = path[:i]
	}
	return path
}

// firstRow returns row 0 of a 2-D waveform, or the vector itself.
func firstRow(v matfile.Value) ([]float64, error) {
	n, ok := v.(*matfile.Numeric)
	if !ok {
		return matfile.Float64s(v)
	}
	if len(n.Dims) < 2 || n.Dims[0] <= 1 {
		return matfile.Float64s(n)
	}
	cols := len(n.Data) / n.Dims[0]
	row := make([]float64, cols)
	for j := range row {
		row[j] = n.At(0, j)
	}
	return row, nil
}
