package nwb

import (
	"errors"
	"fmt"
)

// ErrDuplicateName is returned when an object name is already taken in its container.
var ErrDuplicateName = errors.New("duplicate name")

// Object is anything that can be placed in a container group.
type Object interface {
	ObjectName() string
	lower(ctx *layoutCtx, path string) (Node, error)
}

// Device describes a piece of acquisition or stimulation hardware.
type Device struct {
	Name         string `mapstructure:"name" yaml:"name"`
	Description  string `mapstructure:"description" yaml:"description"`
	Manufacturer string `mapstructure:"manufacturer" yaml:"manufacturer,omitempty"`
}

// Subject describes the animal a session was recorded from.
type Subject struct {
	SubjectID   string
	Species     string
	Sex         string
	Age         string
	Strain      string
	Genotype    string
	Description string
	Weight      string
}

// TimeSeries is a sampled signal with either explicit timestamps or a
// fixed rate and starting time.
type TimeSeries struct {
	Name        string
	Description string
	Comments    string
	Unit        string
	Data        Data
	// Conversion scales stored values to Unit. Zero means 1.
	Conversion float64
	Offset     float64

	Timestamps   Data
	Rate         float64
	StartingTime float64
}

func (ts *TimeSeries) ObjectName() string { return ts.Name }

// Validate checks that the series has data and exactly one clock.
func (ts *TimeSeries) Validate() error {
	if ts.Name == "" {
		return errors.New("time series without a name")
	}
	if ts.Data == nil {
		return fmt.Errorf("time series %q has no data", ts.Name)
	}
	if ts.Timestamps != nil && ts.Rate > 0 {
		return fmt.Errorf("time series %q has both timestamps and a rate", ts.Name)
	}
	if ts.Timestamps == nil && ts.Rate <= 0 {
		return fmt.Errorf("time series %q needs timestamps or a positive rate", ts.Name)
	}
	if ts.Timestamps != nil && Rows(ts.Timestamps) != Rows(ts.Data) {
		return fmt.Errorf("time series %q has %d timestamps for %d samples", ts.Name, Rows(ts.Timestamps), Rows(ts.Data))
	}
	return nil
}

// BehavioralTimeSeries groups related behavioral signals.
type BehavioralTimeSeries struct {
	Name   string
	Series []*TimeSeries
}

func (b *BehavioralTimeSeries) ObjectName() string { return b.Name }

// Events is a named list of event timestamps.
type Events struct {
	Name        string
	Description string
	Timestamps  []float64
}

func (e *Events) ObjectName() string { return e.Name }

// OptogeneticSeries is the laser power delivered to a stimulus site.
type OptogeneticSeries struct {
	TimeSeries
	Site *OgenSite
}

// OgenSite is where light was delivered.
type OgenSite struct {
	Name             string
	Description      string
	ExcitationLambda float64
	Location         string
	Device           *Device
}

// ElectrodeGroup groups electrodes on the same shank or probe.
type ElectrodeGroup struct {
	Name        string
	Description string
	Location    string
	Device      *Device
}

// ElectricalSeries is raw voltage from a set of rows of the electrodes table.
type ElectricalSeries struct {
	TimeSeries
	// Electrodes are row indices into the file's electrodes table.
	Electrodes        []int
	ChannelConversion []float64
}

// ImageSeries points at frames stored outside the file.
type ImageSeries struct {
	TimeSeries
	ExternalFile  []string
	StartingFrame []int
	Device        *Device
}

// Image is one grayscale (HxW) or RGB (HxWx3) picture.
type Image struct {
	Name        string
	Description string
	Data        Data
}

// RGB reports whether the image carries three color planes.
func (im *Image) RGB() bool {
	s := im.Data.Shape()
	return len(s) == 3 && s[2] == 3
}

// Images is a collection of still images.
type Images struct {
	Name        string
	Description string
	Images      []*Image
}

func (im *Images) ObjectName() string { return im.Name }

// PoseEstimationSeries is the tracked position of one body part.
type PoseEstimationSeries struct {
	TimeSeries
	Confidence     Data
	ReferenceFrame string
}

// PoseEstimation holds one series per tracked node.
type PoseEstimation struct {
	Name           string
	Description    string
	SourceSoftware string
	Scorer         string
	Nodes          []string
	Series         []*PoseEstimationSeries
	Devices        []*Device
}

func (p *PoseEstimation) ObjectName() string { return p.Name }

// Task is lab metadata carrying the event types table.
type Task struct {
	EventTypes *Table
}

func (t *Task) ObjectName() string { return "task" }

// ProcessingModule holds derived data of one kind.
type ProcessingModule struct {
	Name        string
	Description string
	objects     []Object
}

// Add stores o in the module.
func (m *ProcessingModule) Add(o Object) error {
	if _, ok := m.Get(o.ObjectName()); ok {
		return fmt.Errorf("processing module %q already has %q: %w", m.Name, o.ObjectName(), ErrDuplicateName)
	}
	m.objects = append(m.objects, o)
	return nil
}

// Get looks up an object by name.
func (m *ProcessingModule) Get(name string) (Object, bool) {
	for _, o := range m.objects {
		if o.ObjectName() == name {
			return o, true
		}
	}
	return nil, false
}

// Objects returns the module contents in insertion order.
func (m *ProcessingModule) Objects() []Object {
	out := make([]Object, len(m.objects))
	copy(out, m.objects)
	return out
}
