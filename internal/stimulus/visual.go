package stimulus

import (
	"fmt"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/matfile"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// appendVisual writes one row per looming disk from the (onset, peak
// expansion, offset) triples in vis.visTimeStamps.
func (s *Interface) appendVisual(f *nwb.File, md *metadata.Metadata, file *matfile.Struct) error {
	vis, err := file.Struct("vis")
	if err != nil {
		return err
	}
	v, err := vis.Require("visTimeStamps")
	if err != nil {
		return err
	}
	stamps, ok := v.(*matfile.Numeric)
	if !ok {
		return fmt.Errorf("visTimeStamps: expected numeric, got %T", v)
	}
	if stamps.Len() == 0 {
		s.logger.Info("No visual stimulus in session")
		return nil
	}
	rows, err := stamps.Rows(3)
	if err != nil {
		return fmt.Errorf("visTimeStamps: %w", err)
	}

	table := nwb.NewTable("VisualStimulus", "Table of visual stimulus presentations")
	for _, c := range []nwb.Column{
		{Name: "onset_time", Description: "Time when the visual stimulus (disk) first appears.", DType: nwb.Float64},
		{Name: "peak_expansion_time", Description: "Time when the visual stimulus (disk) reaches its maximum size.", DType: nwb.Float64},
		{Name: "offset_time", Description: "Time when the visual stimulus (disk) disappears from the screen.", DType: nwb.Float64},
	} {
		if err := table.AddColumn(c); err != nil {
			return err
		}
	}
	for _, r := range rows {
		if err := table.AddRow(map[string]any{"onset_time": r[0], "peak_expansion_time": r[1], "offset_time": r[2]}); err != nil {
			return err
		}
	}

	for _, prop := range md.Stimulus.VisualStimulusProperties {
		pv, ok := vis.Field(prop.Name)
		if !ok {
			s.logger.Warn("Visual stimulus property not found in file, skipping", "name", prop.Name, "file", s.path)
			continue
		}
		col, values, err := propertyColumn(prop, pv, len(rows))
		if err != nil {
			return err
		}
		if err := table.AddColumnData(col, values); err != nil {
			return err
		}
	}
	return f.AddStimulus(table)
}

// propertyColumn spreads a stimulus property over the table rows: one value
// per row, one value shared by every row, or, for any other length, the
// whole vector repeated on every row.
func propertyColumn(prop metadata.Named, v matfile.Value, rows int) (nwb.Column, []any, error) {
	col := nwb.Column{Name: prop.Name, Description: prop.Description}
	values := make([]any, rows)
	if c, ok := v.(matfile.Char); ok {
		col.DType = nwb.String
		for i := range values {
			values[i] = string(c)
		}
		return col, values, nil
	}
	data, err := matfile.Float64s(v)
	if err != nil {
		return col, nil, fmt.Errorf("%s: %w", prop.Name, err)
	}
	col.DType = nwb.Float64
	switch len(data) {
	case rows:
		for i := range values {
			values[i] = data[i]
		}
	case 1:
		for i := range values {
			values[i] = data[0]
		}
	default:
		col.Ragged = true
		for i := range values {
			values[i] = data
		}
	}
	return col, values, nil
}
