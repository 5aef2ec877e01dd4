package behavior

import (
	"math"
	"strconv"
	"strings"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/matfile"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

const eventsNamespace = "ndx-events"

func (b *Interface) appendEventsTable(f *nwb.File, md *metadata.Metadata, file *matfile.Struct) error {
	series, err := b.continuousSeries(file, md)
	if err != nil {
		return err
	}
	if err := b.addTimeSeries(f, md, series); err != nil {
		return err
	}

	types := nwb.NewTable("event_types", "Metadata about event types.")
	types.Type, types.Namespace = "EventTypesTable", eventsNamespace
	types.AddColumn(nwb.Column{Name: "event_name", Description: "Name of the event type.", DType: nwb.String})
	types.AddColumn(nwb.Column{Name: "event_type_description", Description: "Description of the event type.", DType: nwb.String})

	table := nwb.NewTable("events_table", "Metadata about events.")
	table.Type, table.Namespace = "EventsTable", eventsNamespace
	table.AddColumn(nwb.Column{Name: "timestamp", Description: "The time that the event occurred, in seconds.", DType: nwb.Float64, Type: "TimestampVectorData"})
	table.AddColumn(nwb.Column{Name: "event_type", Description: "The type of event that occurred.", Target: types})
	table.AddColumn(nwb.Column{Name: "value", Description: "The value of the event.", DType: nwb.String})

	if len(md.Behavior.Events)+len(md.Behavior.ValuedEvents) > 0 {
		events, err := file.Struct("events")
		if err != nil {
			return err
		}
		add := func(ev metadata.Named, valued bool) error {
			if err := types.AddRow(map[string]any{"event_name": ev.Name, "event_type_description": ev.Description}); err != nil {
				return err
			}
			typeRow := types.Rows() - 1
			times, values, err := b.eventTimes(events, ev.Name, valued)
			if err != nil {
				return err
			}
			for i, t := range times {
				value := ""
				if valued {
					value = formatValue(values[i])
				}
				if err := table.AddRow(map[string]any{"timestamp": t, "event_type": typeRow, "value": value}); err != nil {
					return err
				}
			}
			return nil
		}
		for _, ev := range md.Behavior.Events {
			if err := add(ev, false); err != nil {
				return err
			}
		}
		for _, ev := range md.Behavior.ValuedEvents {
			if err := add(ev, true); err != nil {
				return err
			}
		}
	}

	if err := b.module(f, md).Add(table); err != nil {
		return err
	}
	if err := f.AddLabMetaData(&nwb.Task{EventTypes: types}); err != nil {
		return err
	}
	return nil
}

// formatValue renders an event value the way the lab's analysis code
// prints floats: integral values keep one decimal place.
func formatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func finite(v []float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

func (b *Interface) appendAnnotated(f *nwb.File, md *metadata.Metadata, file *matfile.Struct) error {
	series, err := b.continuousSeries(file, md)
	if err != nil {
		return err
	}
	if err := b.addTimeSeries(f, md, series); err != nil {
		return err
	}
	module := b.module(f, md)

	needEvents := len(md.Behavior.Events)+len(md.Behavior.ValuedEvents)+len(md.Behavior.Trials) > 0
	if !needEvents {
		return convert.AddDevices(f, md.Behavior.Devices)
	}
	events, err := file.Struct("events")
	if err != nil {
		return err
	}

	for _, ev := range md.Behavior.Events {
		times, _, err := b.eventTimes(events, ev.Name, false)
		if err != nil {
			return err
		}
		if times == nil {
			continue
		}
		if matfile.AllNaN(times) {
			b.logger.Warn("Event has only NaN times, skipping", "name", ev.Name, "file", b.path)
			continue
		}
		if err := module.Add(&nwb.Events{Name: ev.Name, Description: ev.Description, Timestamps: finite(times)}); err != nil {
			return err
		}
	}

	valued := nwb.NewTable("valued_events_table", "Metadata about valued events.")
	valued.Type, valued.Namespace = "AnnotatedEventsTable", eventsNamespace
	valued.AddColumn(nwb.Column{Name: "event_times", Description: "Event times of each event type.", DType: nwb.Float64, Ragged: true})
	valued.AddColumn(nwb.Column{Name: "label", Description: "Label for each event type.", DType: nwb.String})
	valued.AddColumn(nwb.Column{Name: "event_description", Description: "Description for each event type.", DType: nwb.String})
	valued.AddColumn(nwb.Column{Name: "value", Description: "Value of each event.", DType: nwb.Float64, Ragged: true})

	var passive []float64
	for _, ev := range md.Behavior.ValuedEvents {
		times, values, err := b.eventTimes(events, ev.Name, true)
		if err != nil {
			return err
		}
		if times == nil {
			continue
		}
		if matfile.AllNaN(times) {
			b.logger.Warn("Valued event has only NaN times, skipping", "name", ev.Name, "file", b.path)
			continue
		}
		if err := valued.AddRow(map[string]any{
			"event_times":       times,
			"label":             ev.Name,
			"event_description": ev.Description,
			"value":             values,
		}); err != nil {
			return err
		}
		if passive == nil {
			passive = finite(times)
		}
	}
	if valued.Rows() > 0 {
		if err := module.Add(valued); err != nil {
			return err
		}
	}

	starts, stops, err := b.appendTrials(f, md, events)
	if err != nil {
		return err
	}
	if len(starts) > 0 {
		if err := f.AddEpoch(starts[0], stops[len(stops)-1], "Active Behavior"); err != nil {
			return err
		}
	}
	if len(passive) > 0 {
		if err := f.AddEpoch(passive[0], passive[len(passive)-1], "Passive Listening"); err != nil {
			return err
		}
	}
	return convert.AddDevices(f, md.Behavior.Devices)
}
