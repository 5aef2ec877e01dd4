// Package metadata holds the descriptive, human-authored fields of a
// conversion: session and subject information, device descriptions, and the
// names and descriptions of every record an interface writes.
package metadata

import (
	"time"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

type Metadata struct {
	NWBFile      NWBFile                `mapstructure:"NWBFile" yaml:"NWBFile"`
	Subject      Subject                `mapstructure:"Subject" yaml:"Subject"`
	Behavior     Behavior               `mapstructure:"Behavior" yaml:"Behavior"`
	Optogenetics Optogenetics           `mapstructure:"Optogenetics" yaml:"Optogenetics"`
	BrainRegion  map[string]BrainRegion `mapstructure:"BrainRegion" yaml:"BrainRegion"`
	ISOI         ISOI                   `mapstructure:"IntrinsicSignalOpticalImaging" yaml:"IntrinsicSignalOpticalImaging"`
	Ecephys      Ecephys                `mapstructure:"Ecephys" yaml:"Ecephys"`
	Sorting      Sorting                `mapstructure:"Sorting" yaml:"Sorting"`
	Stimulus     Stimulus               `mapstructure:"Stimulus" yaml:"Stimulus"`
	Audio        Audio                  `mapstructure:"Audio" yaml:"Audio"`
	Video        map[string]Camera      `mapstructure:"Video" yaml:"Video"`
	Pose         Pose                   `mapstructure:"Pose" yaml:"Pose"`
}

type NWBFile struct {
	SessionDescription    string    `mapstructure:"session_description" yaml:"session_description"`
	Identifier            string    `mapstructure:"identifier" yaml:"identifier"`
	SessionStartTime      time.Time `mapstructure:"session_start_time" yaml:"session_start_time"`
	SessionID             string    `mapstructure:"session_id" yaml:"session_id"`
	Experimenter          []string  `mapstructure:"experimenter" yaml:"experimenter"`
	Institution           string    `mapstructure:"institution" yaml:"institution"`
	Lab                   string    `mapstructure:"lab" yaml:"lab"`
	ExperimentDescription string    `mapstructure:"experiment_description" yaml:"experiment_description"`
	Keywords              []string  `mapstructure:"keywords" yaml:"keywords"`
	RelatedPublications   []string  `mapstructure:"related_publications" yaml:"related_publications"`
	Surgery               string    `mapstructure:"surgery" yaml:"surgery"`
	Virus                 string    `mapstructure:"virus" yaml:"virus"`
	Pharmacology          string    `mapstructure:"pharmacology" yaml:"pharmacology"`
	Stimulus              string    `mapstructure:"stimulus" yaml:"stimulus"`
	Notes                 string    `mapstructure:"notes" yaml:"notes"`
}

type Subject struct {
	SubjectID   string `mapstructure:"subject_id" yaml:"subject_id"`
	Species     string `mapstructure:"species" yaml:"species"`
	Sex         string `mapstructure:"sex" yaml:"sex"`
	Age         string `mapstructure:"age" yaml:"age"`
	Strain      string `mapstructure:"strain" yaml:"strain"`
	Genotype    string `mapstructure:"genotype" yaml:"genotype"`
	Description string `mapstructure:"description" yaml:"description"`
	Weight      string `mapstructure:"weight" yaml:"weight"`
}

// Module names a processing module.
type Module struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
}

// Named is the name and description of one output record.
type Named struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
}

// Series describes one continuous stream. Key is the field holding the
// samples in the raw file when it differs from Name.
type Series struct {
	Key         string `mapstructure:"key" yaml:"key,omitempty"`
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
	Unit        string `mapstructure:"unit" yaml:"unit,omitempty"`
}

// SourceKey is the raw-file field the stream is read from.
func (s Series) SourceKey() string {
	if s.Key != "" {
		return s.Key
	}
	return s.Name
}

// TrialColumn is a per-trial covariate read from events.push.
type TrialColumn struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
	DType       string `mapstructure:"dtype" yaml:"dtype"`
}

type Behavior struct {
	Module       Module        `mapstructure:"Module" yaml:"Module"`
	TimeSeries   []Series      `mapstructure:"TimeSeries" yaml:"TimeSeries"`
	Events       []Named       `mapstructure:"Events" yaml:"Events"`
	ValuedEvents []Named       `mapstructure:"ValuedEvents" yaml:"ValuedEvents"`
	Trials       []TrialColumn `mapstructure:"Trials" yaml:"Trials"`
	Devices      []nwb.Device  `mapstructure:"Devices" yaml:"Devices"`
}

type StimulusSite struct {
	Name                string  `mapstructure:"name" yaml:"name"`
	Description         string  `mapstructure:"description" yaml:"description"`
	ExcitationLambda    float64 `mapstructure:"excitation_lambda" yaml:"excitation_lambda"`
	InjectionLocation   string  `mapstructure:"injection_location" yaml:"injection_location,omitempty"`
	StimulationLocation string  `mapstructure:"stimulation_location" yaml:"stimulation_location,omitempty"`
}

// OgenSeries describes the delivered light. Frequency and PulseWidth only
// apply to pulse-train stimulation.
type OgenSeries struct {
	Name        string  `mapstructure:"name" yaml:"name"`
	Description string  `mapstructure:"description" yaml:"description"`
	Power       float64 `mapstructure:"power" yaml:"power"`
	Frequency   float64 `mapstructure:"frequency" yaml:"frequency,omitempty"`
	PulseWidth  float64 `mapstructure:"pulse_width" yaml:"pulse_width,omitempty"`
}

type Optogenetics struct {
	Device                  nwb.Device   `mapstructure:"Device" yaml:"Device"`
	OptogeneticStimulusSite StimulusSite `mapstructure:"OptogeneticStimulusSite" yaml:"OptogeneticStimulusSite"`
	OptogeneticSeries       OgenSeries   `mapstructure:"OptogeneticSeries" yaml:"OptogeneticSeries"`
}

type BrainRegion struct {
	ElectrodeGroupLocation          string `mapstructure:"electrode_group_location" yaml:"electrode_group_location"`
	OptogeneticStimulusSiteLocation string `mapstructure:"optogenetic_stimulus_site_location" yaml:"optogenetic_stimulus_site_location"`
}

type ISOI struct {
	Module         Module       `mapstructure:"Module" yaml:"Module"`
	Images         Named        `mapstructure:"Images" yaml:"Images"`
	RawImage       Named        `mapstructure:"RawImage" yaml:"RawImage"`
	ProcessedImage Named        `mapstructure:"ProcessedImage" yaml:"ProcessedImage"`
	Devices        []nwb.Device `mapstructure:"Devices" yaml:"Devices"`
}

type ElectrodeGroup struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
	Location    string `mapstructure:"location" yaml:"location"`
	Device      string `mapstructure:"device" yaml:"device"`
}

type Ecephys struct {
	Device           []nwb.Device     `mapstructure:"Device" yaml:"Device"`
	ElectrodeGroup   []ElectrodeGroup `mapstructure:"ElectrodeGroup" yaml:"ElectrodeGroup"`
	ElectricalSeries Named            `mapstructure:"ElectricalSeries" yaml:"ElectricalSeries"`
	// FolderNameToStartDatetime maps "<subject>/<session folder>" to an
	// ISO start time for recordings whose headers lack one.
	FolderNameToStartDatetime map[string]string `mapstructure:"folder_name_to_start_datetime" yaml:"folder_name_to_start_datetime,omitempty"`
}

type Sorting struct {
	UnitsDescription string `mapstructure:"units_description" yaml:"units_description"`
}

type Stimulus struct {
	Speakers                 []nwb.Device `mapstructure:"Speakers" yaml:"Speakers"`
	VisualStimulusProperties []Named      `mapstructure:"VisualStimulusProperties" yaml:"VisualStimulusProperties"`
}

type Audio struct {
	Name        string       `mapstructure:"name" yaml:"name"`
	Description string       `mapstructure:"description" yaml:"description"`
	Unit        string       `mapstructure:"unit" yaml:"unit"`
	Rate        float64      `mapstructure:"rate" yaml:"rate"`
	NumChannels int          `mapstructure:"num_channels" yaml:"num_channels"`
	Microphones []nwb.Device `mapstructure:"Microphones" yaml:"Microphones"`
}

type Camera struct {
	Name        string     `mapstructure:"name" yaml:"name"`
	Description string     `mapstructure:"description" yaml:"description"`
	Device      nwb.Device `mapstructure:"Device" yaml:"Device"`
}

type Pose struct {
	Name           string `mapstructure:"name" yaml:"name"`
	Description    string `mapstructure:"description" yaml:"description"`
	Scorer         string `mapstructure:"scorer" yaml:"scorer"`
	SourceSoftware string `mapstructure:"source_software" yaml:"source_software"`
	ReferenceFrame string `mapstructure:"reference_frame" yaml:"reference_frame"`
}
