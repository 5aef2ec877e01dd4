// Package ogen converts optogenetic stimulation logged alongside lever
// pushes into an OptogeneticSeries and its stimulus site.
package ogen

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/align"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/matfile"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// Waveform is the shape of the delivered light.
type Waveform int

const (
	// PulseTrain repeats pulses at a fixed frequency for the stimulus duration.
	PulseTrain Waveform = iota
	// Square holds constant power from onset to offset.
	Square
)

// ErrOffsetNaN is returned when an opto trial has an onset but no offset.
var ErrOffsetNaN = errors.New("opto trial has an onset but a NaN offset")

// Interface converts the opto_time fields of one behavior .mat file.
type Interface struct {
	convert.Clock

	path     string
	waveform Waveform
	region   string
	logger   *slog.Logger
}

// New returns an interface for path. region selects the stimulus site
// location from BrainRegion and is only used by square-wave sessions.
func New(path string, waveform Waveform, region string, logger *slog.Logger) (*Interface, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("optogenetics file: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Interface{path: path, waveform: waveform, region: region, logger: logger.With("interface", "optogenetics")}
	o.MarkAligned()
	return o, nil
}

func (o *Interface) DescribeDefaults(*metadata.Metadata) error { return nil }

func (o *Interface) ValidateMetadata(md *metadata.Metadata) error {
	if err := md.ValidateOptogenetics(); err != nil {
		return err
	}
	switch o.waveform {
	case PulseTrain:
		s := md.Optogenetics.OptogeneticSeries
		if s.Frequency <= 0 || s.PulseWidth <= 0 {
			return fmt.Errorf("%w: Optogenetics.OptogeneticSeries: 'frequency' and 'pulse_width' are required for pulse trains", metadata.ErrInvalid)
		}
	case Square:
		if _, ok := md.BrainRegion[o.region]; !ok {
			return fmt.Errorf("%w: BrainRegion: no entry for %q", metadata.ErrInvalid, o.region)
		}
	}
	return nil
}

// Trials returns onset and offset of every opto trial. Pushes with a NaN
// onset had no stimulation.
func (o *Interface) Trials() ([]float64, []float64, error) {
	file, err := matfile.Load(o.path)
	if err != nil {
		return nil, nil, err
	}
	onsets, err := file.Float64sAt("events", "push", "opto_time")
	if err != nil {
		return nil, nil, err
	}
	offsets, err := file.Float64sAt("events", "push", "opto_time_end")
	if err != nil {
		return nil, nil, err
	}
	if len(onsets) != len(offsets) {
		return nil, nil, fmt.Errorf("%d opto onsets but %d offsets", len(onsets), len(offsets))
	}
	var on, off []float64
	for i, t := range onsets {
		if math.IsNaN(t) {
			continue
		}
		if math.IsNaN(offsets[i]) {
			return nil, nil, fmt.Errorf("push %d at %g: %w", i, t, ErrOffsetNaN)
		}
		on = append(on, t)
		off = append(off, offsets[i])
	}
	return align.Offset(on, o.TimeOffset()), align.Offset(off, o.TimeOffset()), nil
}

func (o *Interface) Append(f *nwb.File, md *metadata.Metadata) error {
	onsets, offsets, err := o.Trials()
	if err != nil {
		return err
	}
	if len(onsets) == 0 {
		o.logger.Info("No opto trials, skipping", "file", o.path)
		return nil
	}

	opto := md.Optogenetics
	device, err := f.AddDevice(&nwb.Device{
		Name:         opto.Device.Name,
		Description:  opto.Device.Description,
		Manufacturer: opto.Device.Manufacturer,
	})
	if err != nil {
		return err
	}
	site := &nwb.OgenSite{
		Name:             opto.OptogeneticStimulusSite.Name,
		Description:      opto.OptogeneticStimulusSite.Description,
		ExcitationLambda: opto.OptogeneticStimulusSite.ExcitationLambda,
		Location:         o.location(md),
		Device:           device,
	}
	if err := f.AddOgenSite(site); err != nil {
		return err
	}

	var times, power []float64
	switch o.waveform {
	case PulseTrain:
		times, power = pulseTrain(onsets, offsets, opto.OptogeneticSeries)
	default:
		times, power = squareWave(onsets, offsets, opto.OptogeneticSeries.Power)
	}
	series := &nwb.OptogeneticSeries{
		TimeSeries: nwb.TimeSeries{
			Name:        opto.OptogeneticSeries.Name,
			Description: opto.OptogeneticSeries.Description,
			Unit:        "watts",
			Data:        nwb.Vector(power),
			Timestamps:  nwb.Vector(times),
		},
		Site: site,
	}
	o.logger.Debug("Optogenetic stimulation", "trials", len(onsets), "points", len(times))
	return f.AddStimulus(series)
}

func (o *Interface) location(md *metadata.Metadata) string {
	if o.waveform == Square {
		return md.BrainRegion[o.region].OptogeneticStimulusSiteLocation
	}
	s := md.Optogenetics.OptogeneticStimulusSite
	return fmt.Sprintf("Injection location: %s \n Stimulation location: %s", s.InjectionLocation, s.StimulationLocation)
}

// pulseTrain starts at zero power and, for every trial, emits
// floor(duration*frequency) pulses of the configured width.
func pulseTrain(onsets, offsets []float64, s metadata.OgenSeries) ([]float64, []float64) {
	times := []float64{0}
	power := []float64{0}
	for i, on := range onsets {
		n := int((offsets[i] - on) * s.Frequency)
		for p := 0; p < n; p++ {
			start := on + float64(p)/s.Frequency
			times = append(times, start, start+s.PulseWidth)
			power = append(power, s.Power, 0)
		}
	}
	return times, power
}

func squareWave(onsets, offsets []float64, level float64) ([]float64, []float64) {
	times := make([]float64, 0, 2*len(onsets))
	power := make([]float64, 0, 2*len(onsets))
	for i, on := range onsets {
		times = append(times, on, offsets[i])
		power = append(power, level, 0)
	}
	return times, power
}
