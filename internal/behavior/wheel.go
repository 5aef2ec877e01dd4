package behavior

import (
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/matfile"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// appendWheel writes the continuous.wheel streams. They share the single
// continuous.wheel.time clock, which is replaced by injected timestamps
// when alignment set any.
func (b *Interface) appendWheel(f *nwb.File, md *metadata.Metadata, file *matfile.Struct) error {
	continuous, err := file.Struct("continuous")
	if err != nil {
		return err
	}
	if !continuous.Has("wheel") {
		b.logger.Warn("No wheel data in file", "file", b.path)
		return nil
	}
	wheel, err := continuous.Struct("wheel")
	if err != nil {
		return err
	}

	timestamps := b.AlignedTimestamps()
	if timestamps == nil {
		ts, err := wheel.Float64sAt("time")
		if err != nil {
			return err
		}
		timestamps = nwb.Vector(ts)
	}

	var series []*nwb.TimeSeries
	for _, s := range md.Behavior.TimeSeries {
		key := s.SourceKey()
		if !wheel.Has(key) {
			b.logger.Warn("Wheel stream not found in file, skipping", "name", key, "file", b.path)
			continue
		}
		values, err := wheel.Float64sAt(key)
		if err != nil {
			return err
		}
		ts := &nwb.TimeSeries{
			Name:        s.Name,
			Description: s.Description,
			Unit:        unitOr(s),
			Data:        nwb.Vector(values),
			Timestamps:  timestamps,
		}
		if err := ts.Validate(); err != nil {
			return err
		}
		series = append(series, ts)
	}
	return b.addTimeSeries(f, md, series)
}
