package metadata

import (
	"fmt"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the fields every conversion needs. Interfaces check their
// own sections before any of them appends.
func (md *Metadata) Validate() error {
	if md.NWBFile.SessionDescription == "" {
		return invalid("NWBFile: 'session_description' is required")
	}
	if md.NWBFile.SessionStartTime.IsZero() {
		return invalid("NWBFile: 'session_start_time' is required")
	}
	if md.Subject.SubjectID == "" {
		return invalid("Subject: 'subject_id' is required")
	}
	if md.Subject.Species == "" {
		return invalid("Subject: 'species' is required")
	}
	switch md.Subject.Sex {
	case "M", "F", "U", "O":
	default:
		return invalid("Subject: 'sex' must be one of M, F, U, O, got: %q", md.Subject.Sex)
	}
	return nil
}

// ValidateBehavior checks the behavior section.
func (md *Metadata) ValidateBehavior() error {
	b := md.Behavior
	if b.Module.Name == "" {
		return invalid("Behavior.Module: 'name' is required")
	}
	seen := map[string]string{}
	for i, s := range b.TimeSeries {
		if s.Name == "" {
			return invalid("Behavior.TimeSeries[%d]: 'name' is required", i)
		}
	}
	check := func(section string, items []Named) error {
		for i, e := range items {
			prefix := fmt.Sprintf("Behavior.%s[%d]", section, i)
			if e.Name == "" {
				return invalid("%s: 'name' is required", prefix)
			}
			if prev, dup := seen[e.Name]; dup {
				return invalid("%s: event '%s' already listed in %s", prefix, e.Name, prev)
			}
			seen[e.Name] = section
		}
		return nil
	}
	if err := check("Events", b.Events); err != nil {
		return err
	}
	if err := check("ValuedEvents", b.ValuedEvents); err != nil {
		return err
	}
	for i, c := range b.Trials {
		prefix := fmt.Sprintf("Behavior.Trials[%d]", i)
		if c.Name == "" {
			return invalid("%s: 'name' is required", prefix)
		}
		if _, err := nwb.ParseDType(c.DType); err != nil {
			return invalid("%s: %v", prefix, err)
		}
	}
	return validateDevices("Behavior.Devices", b.Devices)
}

// ValidateOptogenetics checks the optogenetics section.
func (md *Metadata) ValidateOptogenetics() error {
	o := md.Optogenetics
	if o.Device.Name == "" {
		return invalid("Optogenetics.Device: 'name' is required")
	}
	if o.OptogeneticStimulusSite.Name == "" {
		return invalid("Optogenetics.OptogeneticStimulusSite: 'name' is required")
	}
	if o.OptogeneticSeries.Name == "" {
		return invalid("Optogenetics.OptogeneticSeries: 'name' is required")
	}
	if o.OptogeneticSeries.Power < 0 {
		return invalid("Optogenetics.OptogeneticSeries: 'power' must be >= 0, got: %g", o.OptogeneticSeries.Power)
	}
	if o.OptogeneticSeries.Frequency < 0 || o.OptogeneticSeries.PulseWidth < 0 {
		return invalid("Optogenetics.OptogeneticSeries: 'frequency' and 'pulse_width' must be >= 0")
	}
	return nil
}

func validateDevices(prefix string, devices []nwb.Device) error {
	for i, d := range devices {
		if d.Name == "" {
			return invalid("%s[%d]: 'name' is required", prefix, i)
		}
	}
	return nil
}
