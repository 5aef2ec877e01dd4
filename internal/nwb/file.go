package nwb

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the NWB schema version written into every file.
const Version = "2.8.0"

// File is the in-memory NWB container for one session. It is created empty,
// handed to each conversion stage in turn and finally to a writer.
type File struct {
	Identifier         string
	SessionDescription string
	SessionStartTime   time.Time
	// TimestampsReferenceTime defaults to SessionStartTime.
	TimestampsReferenceTime time.Time
	FileCreateDate          time.Time

	SessionID             string
	Experimenter          []string
	Institution           string
	Lab                   string
	ExperimentDescription string
	Keywords              []string
	RelatedPublications   []string
	Surgery               string
	Virus                 string
	Pharmacology          string
	Stimulus              string
	Notes                 string

	Subject *Subject

	devices         []*Device
	acquisition     []Object
	presentation    []Object
	templates       []Object
	processing      []*ProcessingModule
	ogenSites       []*OgenSite
	electrodeGroups []*ElectrodeGroup
	labMeta         []Object

	electrodes *Table
	units      *Table
	trials     *Table
	epochs     *Table
}

// NewFile creates an empty container. An empty identifier gets a random UUID.
func NewFile(identifier, description string, start time.Time) *File {
	if identifier == "" {
		identifier = uuid.NewString()
	}
	return &File{
		Identifier:         identifier,
		SessionDescription: description,
		SessionStartTime:   start,
		FileCreateDate:     time.Now(),
	}
}

// FileName is the output file name for a subject and session.
func FileName(subject, session string) string {
	return fmt.Sprintf("sub-%s_ses-%s.nwb", subject, session)
}

func checkName(kind, name string, taken func(string) bool) error {
	if name == "" {
		return fmt.Errorf("%s without a name", kind)
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("%s name %q contains '/'", kind, name)
	}
	if taken(name) {
		return fmt.Errorf("%s %q: %w", kind, name, ErrDuplicateName)
	}
	return nil
}

// AddDevice registers a device. Adding a device identical to an existing
// one returns the existing device; a different device with the same name
// is an error.
func (f *File) AddDevice(d *Device) (*Device, error) {
	if existing, ok := f.Device(d.Name); ok {
		if *existing == *d {
			return existing, nil
		}
		return nil, fmt.Errorf("device %q: %w", d.Name, ErrDuplicateName)
	}
	if err := checkName("device", d.Name, func(string) bool { return false }); err != nil {
		return nil, err
	}
	f.devices = append(f.devices, d)
	return d, nil
}

// Device looks up a device by name.
func (f *File) Device(name string) (*Device, bool) {
	for _, d := range f.devices {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Devices returns all devices in insertion order.
func (f *File) Devices() []*Device {
	out := make([]*Device, len(f.devices))
	copy(out, f.devices)
	return out
}

func lookup(list []Object, name string) (Object, bool) {
	for _, o := range list {
		if o.ObjectName() == name {
			return o, true
		}
	}
	return nil, false
}

func validate(o Object) error {
	if v, ok := o.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}

func (f *File) add(kind string, list *[]Object, o Object) error {
	if err := checkName(kind, o.ObjectName(), func(n string) bool { _, ok := lookup(*list, n); return ok }); err != nil {
		return err
	}
	if err := validate(o); err != nil {
		return err
	}
	*list = append(*list, o)
	return nil
}

// AddAcquisition stores raw acquired data.
func (f *File) AddAcquisition(o Object) error { return f.add("acquisition", &f.acquisition, o) }

// AddStimulus stores presented stimuli.
func (f *File) AddStimulus(o Object) error { return f.add("stimulus", &f.presentation, o) }

// AddStimulusTemplate stores stimulus templates.
func (f *File) AddStimulusTemplate(o Object) error {
	return f.add("stimulus template", &f.templates, o)
}

// AddLabMetaData stores lab-specific metadata such as a Task.
func (f *File) AddLabMetaData(o Object) error { return f.add("lab metadata", &f.labMeta, o) }

// Acquisition looks up an acquisition object.
func (f *File) Acquisition(name string) (Object, bool) { return lookup(f.acquisition, name) }

// StimulusPresentation looks up a presented stimulus.
func (f *File) StimulusPresentation(name string) (Object, bool) { return lookup(f.presentation, name) }

// StimulusTemplate looks up a stimulus template.
func (f *File) StimulusTemplate(name string) (Object, bool) { return lookup(f.templates, name) }

// StimulusTemplates returns the templates in insertion order.
func (f *File) StimulusTemplates() []Object {
	out := make([]Object, len(f.templates))
	copy(out, f.templates)
	return out
}

// LabMetaData looks up lab metadata by name.
func (f *File) LabMetaData(name string) (Object, bool) { return lookup(f.labMeta, name) }

// ProcessingModule returns the named module, creating it if needed. An
// existing module keeps its original description.
func (f *File) ProcessingModule(name, description string) *ProcessingModule {
	if m, ok := f.Module(name); ok {
		return m
	}
	m := &ProcessingModule{Name: name, Description: description}
	f.processing = append(f.processing, m)
	return m
}

// Module looks up an existing processing module.
func (f *File) Module(name string) (*ProcessingModule, bool) {
	for _, m := range f.processing {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Modules returns all processing modules.
func (f *File) Modules() []*ProcessingModule {
	out := make([]*ProcessingModule, len(f.processing))
	copy(out, f.processing)
	return out
}

// AddOgenSite registers an optogenetic stimulus site.
func (f *File) AddOgenSite(s *OgenSite) error {
	err := checkName("optogenetic site", s.Name, func(n string) bool {
		for _, o := range f.ogenSites {
			if o.Name == n {
				return true
			}
		}
		return false
	})
	if err != nil {
		return err
	}
	if s.Device == nil {
		return fmt.Errorf("optogenetic site %q has no device", s.Name)
	}
	f.ogenSites = append(f.ogenSites, s)
	return nil
}

// OgenSites returns the registered stimulus sites.
func (f *File) OgenSites() []*OgenSite {
	out := make([]*OgenSite, len(f.ogenSites))
	copy(out, f.ogenSites)
	return out
}

// AddElectrodeGroup registers an electrode group.
func (f *File) AddElectrodeGroup(g *ElectrodeGroup) error {
	err := checkName("electrode group", g.Name, func(n string) bool { _, ok := f.ElectrodeGroup(n); return ok })
	if err != nil {
		return err
	}
	if g.Device == nil {
		return fmt.Errorf("electrode group %q has no device", g.Name)
	}
	f.electrodeGroups = append(f.electrodeGroups, g)
	return nil
}

// ElectrodeGroup looks up a group by name.
func (f *File) ElectrodeGroup(name string) (*ElectrodeGroup, bool) {
	for _, g := range f.electrodeGroups {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// Electrodes returns the electrodes table, creating it on first use.
func (f *File) Electrodes() *Table {
	if f.electrodes == nil {
		t := &Table{Name: "electrodes", Description: "metadata about extracellular electrodes", Type: "DynamicTable", Namespace: "hdmf-common"}
		t.mustAdd(Column{Name: "location", Description: "the location of channel within the subject e.g. brain region", DType: String})
		t.mustAdd(Column{Name: "group", Description: "a reference to the ElectrodeGroup this electrode is a part of", DType: Ref})
		t.mustAdd(Column{Name: "group_name", Description: "the name of the ElectrodeGroup this electrode is a part of", DType: String})
		t.mustAdd(Column{Name: "channel_name", Description: "name of the channel in the acquisition system", DType: String})
		f.electrodes = t
	}
	return f.electrodes
}

// AddElectrode appends a row to the electrodes table. Extra carries values
// for columns added to the table beyond the required ones.
func (f *File) AddElectrode(group *ElectrodeGroup, channelName, location string, extra map[string]any) (int, error) {
	if _, ok := f.ElectrodeGroup(group.Name); !ok {
		return 0, fmt.Errorf("electrode group %q is not registered", group.Name)
	}
	t := f.Electrodes()
	if location == "" {
		location = group.Location
	}
	row := map[string]any{
		"location":     location,
		"group":        electrodeGroupPath(group.Name),
		"group_name":   group.Name,
		"channel_name": channelName,
	}
	for k, v := range extra {
		row[k] = v
	}
	err := t.AddRow(row)
	if err != nil {
		return 0, err
	}
	return t.Rows() - 1, nil
}

// Units returns the sorted units table, creating it on first use.
func (f *File) Units(description string) *Table {
	if f.units == nil {
		t := &Table{Name: "units", Description: description, Type: "Units", Namespace: "core"}
		t.mustAdd(Column{Name: "spike_times", Description: "the spike times for each unit in seconds", DType: Float64, Ragged: true})
		f.units = t
	}
	return f.units
}

// Trials returns the trials table, creating it on first use.
func (f *File) Trials() *Table {
	if f.trials == nil {
		f.trials = NewTimeIntervals("trials", "experimental trials")
	}
	return f.trials
}

// AddTrial appends a trial. start must not exceed stop and neither may be NaN.
func (f *File) AddTrial(start, stop float64, extra map[string]any) error {
	if math.IsNaN(start) || math.IsNaN(stop) {
		return errors.New("trial start and stop times must not be NaN")
	}
	if start > stop {
		return fmt.Errorf("trial start %g is after stop %g", start, stop)
	}
	row := map[string]any{"start_time": start, "stop_time": stop}
	for k, v := range extra {
		row[k] = v
	}
	return f.Trials().AddRow(row)
}

// AddTrialColumn attaches a full column to the trials table.
func (f *File) AddTrialColumn(name, description string, dtype DType, values any) error {
	return f.Trials().AddColumnData(Column{Name: name, Description: description, DType: dtype}, values)
}

// Epochs returns the epochs table, creating it on first use.
func (f *File) Epochs() *Table {
	if f.epochs == nil {
		t := NewTimeIntervals("epochs", "experimental epochs")
		t.mustAdd(Column{Name: "tags", Description: "user-defined tags", DType: String, Ragged: true})
		f.epochs = t
	}
	return f.epochs
}

// AddEpoch appends an epoch with the given tags.
func (f *File) AddEpoch(start, stop float64, tags ...string) error {
	if math.IsNaN(start) || math.IsNaN(stop) {
		return errors.New("epoch start and stop times must not be NaN")
	}
	if tags == nil {
		tags = []string{}
	}
	return f.Epochs().AddRow(map[string]any{"start_time": start, "stop_time": stop, "tags": tags})
}

func devicePath(name string) string         { return "/general/devices/" + name }
func electrodeGroupPath(name string) string { return "/general/extracellular_ephys/" + name }
func ogenSitePath(name string) string       { return "/general/optogenetics/" + name }
