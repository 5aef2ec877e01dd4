package nwbio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

func sampleFile(t *testing.T) *nwb.File {
	t.Helper()
	f := nwb.NewFile("test-id", "zarr test", time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC))
	values := make([]float64, 100)
	stamps := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
		stamps[i] = float64(i) / 10
	}
	mod := f.ProcessingModule("behavior", "behavior")
	err := mod.Add(&nwb.BehavioralTimeSeries{Name: "behavioral_time_series", Series: []*nwb.TimeSeries{
		{Name: "wheel", Unit: "a.u.", Data: nwb.Vector(values), Timestamps: nwb.Vector(stamps)},
	}})
	if err != nil {
		t.Fatal(err)
	}
	dev, _ := f.AddDevice(&nwb.Device{Name: "Laser", Description: "blue laser"})
	site := &nwb.OgenSite{Name: "site", Device: dev}
	if err := f.AddOgenSite(site); err != nil {
		t.Fatal(err)
	}
	opto := &nwb.OptogeneticSeries{
		TimeSeries: nwb.TimeSeries{Name: "opto", Unit: "watts", Data: nwb.Vector([]float64{0.1, 0}), Timestamps: nwb.Vector([]float64{1, 2})},
		Site:       site,
	}
	if err := f.AddStimulus(opto); err != nil {
		t.Fatal(err)
	}
	if err := f.AddEpoch(0, 5, "Active Behavior"); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestZarrWriter_Write(t *testing.T) {
	out := filepath.Join(t.TempDir(), "sub-m1_ses-1.nwb")
	w, err := New("zarr", Options{ChunkSize: 256 * datasize.B})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Write(context.Background(), sampleFile(t), out); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(out, ".zgroup")); err != nil {
		t.Errorf("Expected root .zgroup, got %v", err)
	}
	attrs, err := ReadAttrs(out)
	if err != nil {
		t.Fatal(err)
	}
	if attrs["neurodata_type"] != "NWBFile" {
		t.Errorf("Expected root neurodata_type NWBFile, got %v", attrs["neurodata_type"])
	}

	dataDir := filepath.Join(out, "processing", "behavior", "behavioral_time_series", "wheel", "data")
	meta, values, err := ReadArray(dataDir)
	if err != nil {
		t.Fatalf("ReadArray failed: %v", err)
	}
	// 256 bytes per chunk of float64 is 32 rows
	if meta.Chunks[0] != 32 {
		t.Errorf("Expected chunk length 32, got %d", meta.Chunks[0])
	}
	for _, chunk := range []string{"0", "1", "2", "3"} {
		if _, err := os.Stat(filepath.Join(dataDir, chunk)); err != nil {
			t.Errorf("Expected chunk %s, got %v", chunk, err)
		}
	}
	got := values.([]float64)
	if len(got) != 100 || got[0] != 0 || got[99] != 99 {
		t.Errorf("Expected 100 values 0..99, got %d values", len(got))
	}

	dataAttrs, err := ReadAttrs(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if dataAttrs["unit"] != "a.u." {
		t.Errorf("Expected unit a.u., got %v", dataAttrs["unit"])
	}

	optoAttrs, err := ReadAttrs(filepath.Join(out, "stimulus", "presentation", "opto"))
	if err != nil {
		t.Fatal(err)
	}
	links, ok := optoAttrs["zarr_link"].([]any)
	if !ok || len(links) != 1 {
		t.Fatalf("Expected one zarr_link, got %v", optoAttrs["zarr_link"])
	}
	link := links[0].(map[string]any)
	if link["name"] != "site" || link["path"] != "/general/optogenetics/site" {
		t.Errorf("Expected link site -> /general/optogenetics/site, got %v", link)
	}

	_, tags, err := ReadArray(filepath.Join(out, "intervals", "epochs", "tags"))
	if err != nil {
		t.Fatal(err)
	}
	if s := tags.([]string); len(s) != 1 || s[0] != "Active Behavior" {
		t.Errorf("Expected tags [Active Behavior], got %v", s)
	}

	_, id, err := ReadArray(filepath.Join(out, "identifier"))
	if err != nil {
		t.Fatal(err)
	}
	if s := id.([]string); len(s) != 1 || s[0] != "test-id" {
		t.Errorf("Expected identifier test-id, got %v", s)
	}
}

func TestZarrWriter_Overwrites(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.nwb")
	if err := os.MkdirAll(filepath.Join(out, "stale"), 0755); err != nil {
		t.Fatal(err)
	}
	w := &ZarrWriter{ChunkBytes: 1024}
	if err := w.Write(context.Background(), sampleFile(t), out); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(out, "stale")); !os.IsNotExist(err) {
		t.Errorf("Expected stale directory to be removed")
	}
}

func TestZarrWriter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &ZarrWriter{ChunkBytes: 1024}
	if err := w.Write(ctx, sampleFile(t), filepath.Join(t.TempDir(), "x.nwb")); err == nil {
		t.Errorf("Expected cancelled context to abort the write")
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New("parquet", Options{}); err == nil {
		t.Errorf("Expected error for unknown backend")
	}
	found := false
	for _, b := range Backends() {
		if b == "zarr" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected zarr in %v", Backends())
	}
}

func TestRowsPerChunk(t *testing.T) {
	if got := rowsPerChunk(nwb.Float32, []int{1000, 4}, 160); got != 10 {
		t.Errorf("Expected 10 rows, got %d", got)
	}
	if got := rowsPerChunk(nwb.Float64, []int{3}, 1<<20); got != 3 {
		t.Errorf("Expected chunk capped at 3 rows, got %d", got)
	}
	if got := rowsPerChunk(nwb.Int16, []int{10, 1000}, 8); got != 1 {
		t.Errorf("Expected at least one row, got %d", got)
	}
}
