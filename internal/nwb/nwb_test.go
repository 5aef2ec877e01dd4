package nwb

import (
	"errors"
	"math"
	"testing"
	"time"
)

func newTestFile() *File {
	start := time.Date(2023, 10, 29, 0, 0, 0, 0, time.UTC)
	return NewFile("", "test session", start)
}

func TestFileName(t *testing.T) {
	if got := FileName("m53", "231029"); got != "sub-m53_ses-231029.nwb" {
		t.Errorf("Expected sub-m53_ses-231029.nwb, got %s", got)
	}
}

func TestNewFile_GeneratesIdentifier(t *testing.T) {
	f := newTestFile()
	if f.Identifier == "" {
		t.Errorf("Expected a generated identifier")
	}
}

func TestProcessingModule_GetOrCreate(t *testing.T) {
	f := newTestFile()
	m1 := f.ProcessingModule("behavior", "Behavioral data")
	m2 := f.ProcessingModule("behavior", "ignored")
	if m1 != m2 {
		t.Errorf("Expected the same module instance")
	}
	if m2.Description != "Behavioral data" {
		t.Errorf("Expected original description to be kept, got %q", m2.Description)
	}

	ev := &Events{Name: "valve", Timestamps: []float64{1, 2}}
	if err := m1.Add(ev); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	err := m1.Add(&Events{Name: "valve"})
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName, got %v", err)
	}
}

func TestAddDevice_Idempotent(t *testing.T) {
	f := newTestFile()
	d := &Device{Name: "Camera", Description: "top camera"}
	if _, err := f.AddDevice(d); err != nil {
		t.Fatal(err)
	}
	same, err := f.AddDevice(&Device{Name: "Camera", Description: "top camera"})
	if err != nil || same != d {
		t.Errorf("Expected identical device to return the existing one, got %v, %v", same, err)
	}
	if _, err := f.AddDevice(&Device{Name: "Camera", Description: "side camera"}); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName for a conflicting device, got %v", err)
	}
}

func TestTimeSeriesValidate(t *testing.T) {
	ts := &TimeSeries{Name: "x", Data: Vector([]float64{1, 2, 3}), Timestamps: Vector([]float64{0, 1})}
	if err := ts.Validate(); err == nil {
		t.Errorf("Expected mismatched timestamps to fail")
	}
	ts.Timestamps = nil
	if err := ts.Validate(); err == nil {
		t.Errorf("Expected missing clock to fail")
	}
	ts.Rate = 10
	if err := ts.Validate(); err != nil {
		t.Errorf("Expected rate-based series to validate, got %v", err)
	}
}

func TestTrials(t *testing.T) {
	f := newTestFile()
	if err := f.AddTrial(1, 2, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.AddTrial(3, 2.5, nil); err == nil {
		t.Errorf("Expected error for start after stop")
	}
	if err := f.AddTrial(math.NaN(), 2, nil); err == nil {
		t.Errorf("Expected error for NaN start")
	}
	if err := f.AddTrial(4, 5, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.AddTrialColumn("is_correct", "whether the trial was correct", Bool, []bool{true, false}); err != nil {
		t.Fatalf("AddTrialColumn failed: %v", err)
	}
	if err := f.AddTrialColumn("short", "too short", Float64, []float64{1}); err == nil {
		t.Errorf("Expected error for wrong column length")
	}
	if f.Trials().Rows() != 2 {
		t.Errorf("Expected 2 trials, got %d", f.Trials().Rows())
	}
	col, ok := f.Trials().Column("is_correct")
	if !ok || col.Values()[1] != false {
		t.Errorf("Expected is_correct column [true false]")
	}
}

func TestTable_RowsAndRagged(t *testing.T) {
	types := NewTable("event_types", "types")
	types.AddColumn(Column{Name: "event_name", Description: "name", DType: String})
	types.AddRow(map[string]any{"event_name": "valve"})

	events := NewTable("events", "events")
	if err := events.AddColumn(Column{Name: "timestamp", DType: Float64}); err != nil {
		t.Fatal(err)
	}
	if err := events.AddColumn(Column{Name: "event_type", Target: types}); err != nil {
		t.Fatal(err)
	}
	if err := events.AddColumn(Column{Name: "values", DType: Float64, Ragged: true}); err != nil {
		t.Fatal(err)
	}

	if err := events.AddRow(map[string]any{"timestamp": 1.5, "event_type": 0, "values": []float64{1, 2}}); err != nil {
		t.Fatalf("AddRow failed: %v", err)
	}
	if err := events.AddRow(map[string]any{"timestamp": 0.5, "event_type": 0, "values": []float64{}}); err != nil {
		t.Fatalf("AddRow failed: %v", err)
	}
	if err := events.AddRow(map[string]any{"timestamp": 1.0, "event_type": 3, "values": []float64{}}); err == nil {
		t.Errorf("Expected error for out-of-range region index")
	}
	if err := events.AddRow(map[string]any{"timestamp": 1.0, "event_type": 0}); err == nil {
		t.Errorf("Expected error for missing column value")
	}
	if err := events.AddRow(map[string]any{"timestamp": 1.0, "event_type": 0, "values": []float64{}, "typo": 1}); err == nil {
		t.Errorf("Expected error for unknown column")
	}
	if events.Rows() != 2 {
		t.Fatalf("Expected 2 rows, got %d", events.Rows())
	}

	if err := events.SortBy("timestamp"); err != nil {
		t.Fatal(err)
	}
	ts, _ := events.Column("timestamp")
	if got := ts.Float64s(); got[0] != 0.5 || got[1] != 1.5 {
		t.Errorf("Expected sorted timestamps [0.5 1.5], got %v", got)
	}
}

func TestLayout(t *testing.T) {
	f := newTestFile()
	f.SessionID = "231029"
	f.Subject = &Subject{SubjectID: "m53", Species: "Mus musculus", Sex: "M"}

	mod := f.ProcessingModule("behavior", "behavior")
	bts := &BehavioralTimeSeries{Name: "behavioral_time_series", Series: []*TimeSeries{
		{Name: "lick", Unit: "a.u.", Data: Vector([]float64{0, 1}), Timestamps: Vector([]float64{0, 0.1})},
	}}
	if err := mod.Add(bts); err != nil {
		t.Fatal(err)
	}

	types := NewTable("event_types", "types")
	types.AddColumn(Column{Name: "event_name", DType: String})
	types.AddRow(map[string]any{"event_name": "valve"})
	events := NewTable("events_table", "events")
	events.Type, events.Namespace = "EventsTable", "ndx-events"
	events.AddColumn(Column{Name: "timestamp", Type: "TimestampVectorData"})
	events.AddColumn(Column{Name: "event_type", Target: types})
	events.AddRow(map[string]any{"timestamp": 2.0, "event_type": 0})
	if err := mod.Add(events); err != nil {
		t.Fatal(err)
	}
	if err := f.AddLabMetaData(&Task{EventTypes: types}); err != nil {
		t.Fatal(err)
	}
	if err := f.AddEpoch(0, 10, "Active Behavior"); err != nil {
		t.Fatal(err)
	}

	dev, _ := f.AddDevice(&Device{Name: "Laser", Description: "laser"})
	site := &OgenSite{Name: "site", Device: dev, ExcitationLambda: 473}
	if err := f.AddOgenSite(site); err != nil {
		t.Fatal(err)
	}
	opto := &OptogeneticSeries{TimeSeries: TimeSeries{Name: "opto", Unit: "watts", Data: Vector([]float64{0.1, 0}), Timestamps: Vector([]float64{1, 2})}, Site: site}
	if err := f.AddStimulus(opto); err != nil {
		t.Fatal(err)
	}

	root, err := f.Layout()
	if err != nil {
		t.Fatalf("Layout failed: %v", err)
	}

	for _, p := range []string{
		"identifier",
		"session_start_time",
		"general/session_id",
		"general/subject/subject_id",
		"general/devices/Laser",
		"general/optogenetics/site",
		"general/task/event_types/event_name",
		"processing/behavior/behavioral_time_series/lick/data",
		"processing/behavior/behavioral_time_series/lick/timestamps",
		"processing/behavior/events_table/event_type",
		"intervals/epochs/tags",
		"intervals/epochs/tags_index",
		"stimulus/presentation/opto/site",
	} {
		if _, ok := root.Lookup(p); !ok {
			t.Errorf("Expected %s in layout", p)
		}
	}

	n, _ := root.Lookup("processing/behavior/events_table/event_type")
	ds := n.(*DatasetNode)
	if ds.Attrs["table"] != "/general/task/event_types" {
		t.Errorf("Expected region to point at /general/task/event_types, got %v", ds.Attrs["table"])
	}

	n, _ = root.Lookup("stimulus/presentation/opto/site")
	if l := n.(*Link); l.Target != "/general/optogenetics/site" {
		t.Errorf("Expected site link target /general/optogenetics/site, got %s", l.Target)
	}

	n, _ = root.Lookup("intervals/epochs/tags_index")
	idx, err := Float64Values(n.(*DatasetNode).Data)
	if err != nil || len(idx) != 1 || idx[0] != 1 {
		t.Errorf("Expected tags index [1], got %v (%v)", idx, err)
	}
}

func TestLayout_DanglingRegion(t *testing.T) {
	f := newTestFile()
	orphan := NewTable("orphan", "not stored")
	orphan.AddColumn(Column{Name: "x", DType: Float64})
	orphan.AddRow(map[string]any{"x": 1.0})

	tbl := NewTable("refs", "refs")
	tbl.AddColumn(Column{Name: "ref", Target: orphan})
	tbl.AddRow(map[string]any{"ref": 0})
	if err := f.AddStimulus(tbl); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Layout(); err == nil {
		t.Errorf("Expected error for a region into a table outside the file")
	}
}
