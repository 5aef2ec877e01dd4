package behavior

import (
	"fmt"
	"math"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/matfile"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// appendTrials builds one trial per lever push from events.push.time and
// events.push.time_end. Pushes with a NaN start or stop are dropped along
// with their column values. It returns the kept start and stop times.
func (b *Interface) appendTrials(f *nwb.File, md *metadata.Metadata, events *matfile.Struct) ([]float64, []float64, error) {
	if !events.Has("push") {
		b.logger.Warn("No push events in file, skipping trials", "file", b.path)
		return nil, nil, nil
	}
	push, err := events.Struct("push")
	if err != nil {
		return nil, nil, err
	}
	starts, err := push.Float64sAt("time")
	if err != nil {
		return nil, nil, err
	}
	stops, err := push.Float64sAt("time_end")
	if err != nil {
		return nil, nil, err
	}
	if len(starts) != len(stops) {
		return nil, nil, fmt.Errorf("push: %d start times but %d stop times", len(starts), len(stops))
	}

	var keep []int
	for i := range starts {
		if math.IsNaN(starts[i]) || math.IsNaN(stops[i]) {
			continue
		}
		keep = append(keep, i)
	}
	if dropped := len(starts) - len(keep); dropped > 0 {
		b.logger.Debug("Dropped pushes with NaN times", "count", dropped)
	}

	offset := b.TimeOffset()
	keptStarts := make([]float64, len(keep))
	keptStops := make([]float64, len(keep))
	for j, i := range keep {
		keptStarts[j] = starts[i] - offset
		keptStops[j] = stops[i] - offset
		if err := f.AddTrial(keptStarts[j], keptStops[j], nil); err != nil {
			return nil, nil, fmt.Errorf("trial %d: %w", i, err)
		}
	}
	if len(keep) == 0 {
		return nil, nil, nil
	}

	for _, col := range md.Behavior.Trials {
		if !push.Has(col.Name) {
			b.logger.Warn("Trial column not found in file, skipping", "name", col.Name, "file", b.path)
			continue
		}
		raw, err := push.Float64sAt(col.Name)
		if err != nil {
			return nil, nil, err
		}
		if len(raw) != len(starts) {
			return nil, nil, fmt.Errorf("push.%s has %d values for %d pushes", col.Name, len(raw), len(starts))
		}
		dtype, err := nwb.ParseDType(col.DType)
		if err != nil {
			return nil, nil, err
		}
		values := make([]any, len(keep))
		for j, i := range keep {
			v := raw[i]
			if dtype == nwb.Bool && math.IsNaN(v) {
				values[j] = false
				continue
			}
			values[j] = v
		}
		if err := f.AddTrialColumn(col.Name, col.Description, dtype, values); err != nil {
			return nil, nil, err
		}
	}
	return keptStarts, keptStops, nil
}
