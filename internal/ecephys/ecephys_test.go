package ecephys

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sbinet/npyio/npy"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

const (
	testStream   = "Record Node 102#Neuropix-PXI-100.ProbeA"
	testChannels = 3
	testSamples  = 200
)

const testOebin = `{
  "GUI version": "0.6.7",
  "continuous": [
    {
      "folder_name": "Neuropix-PXI-100.ProbeA/",
      "sample_rate": 1000.0,
      "stream_name": "ProbeA",
      "num_channels": 3,
      "channels": [
        {"channel_name": "CH1", "bit_volts": 0.195, "units": "uV"},
        {"channel_name": "CH2", "bit_volts": 0.195, "units": "uV"},
        {"channel_name": "CH3", "bit_volts": 0.195, "units": "uV"}
      ]
    }
  ],
  "events": [
    {"folder_name": "Neuropix-PXI-100.ProbeA/TTL/", "channel_name": "TTL", "stream_name": "ProbeA"}
  ]
}`

func writeNpy(t *testing.T, path string, v any) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := npy.Write(f, v); err != nil {
		t.Fatal(err)
	}
}

// writeInt16 writes frames where channel c of frame i holds 10*i + c after
// header zero bytes.
func writeInt16(t *testing.T, path string, frames, channels, header int) {
	t.Helper()
	buf := make([]byte, header+frames*channels*2)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(buf[header+(i*channels+c)*2:], uint16(int16(10*i+c)))
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
}

// openEphysFolder lays out one recording starting at t=10 s with TTL
// pulses rising at 10.1 and 10.3 s.
func openEphysFolder(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	rec := filepath.Join(root, "Record Node 102", "experiment1", "recording1")
	if err := os.MkdirAll(rec, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(rec, oebinName), []byte(testOebin), 0644); err != nil {
		t.Fatal(err)
	}
	cont := filepath.Join(rec, "continuous", "Neuropix-PXI-100.ProbeA")
	writeInt16(t, filepath.Join(cont, "continuous.dat"), testSamples, testChannels, 0)
	ts := make([]float64, testSamples)
	sn := make([]int64, testSamples)
	for i := range ts {
		ts[i] = 10 + float64(i)/1000
		sn[i] = int64(10000 + i)
	}
	writeNpy(t, filepath.Join(cont, "timestamps.npy"), ts)
	writeNpy(t, filepath.Join(cont, "sample_numbers.npy"), sn)

	ttl := filepath.Join(rec, "events", "Neuropix-PXI-100.ProbeA", "TTL")
	writeNpy(t, filepath.Join(ttl, "timestamps.npy"), []float64{10.1, 10.2, 10.3, 10.4})
	writeNpy(t, filepath.Join(ttl, "sample_numbers.npy"), []int64{10100, 10200, 10300, 10400})
	writeNpy(t, filepath.Join(ttl, "states.npy"), []int16{1, -1, 1, -1})
	return root
}

func ecephysMetadata() *metadata.Metadata {
	md := metadata.Base()
	md.Ecephys.Device = []nwb.Device{{Name: "NeuropixelsProbe", Description: "Neuropixels 1.0"}}
	md.Ecephys.ElectrodeGroup = []metadata.ElectrodeGroup{{Name: "ProbeA", Description: "probe", Location: "unknown", Device: "NeuropixelsProbe"}}
	md.BrainRegion = map[string]metadata.BrainRegion{"A1": {ElectrodeGroupLocation: "Primary auditory cortex"}}
	return md
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOpenEphys_Stream(t *testing.T) {
	o, err := OpenOpenEphys(openEphysFolder(t), testStream)
	if err != nil {
		t.Fatal(err)
	}
	defer o.Close()
	if o.Samples() != testSamples || o.Rate() != 1000 {
		t.Errorf("Expected %d samples at 1 kHz, got %d at %v", testSamples, o.Samples(), o.Rate())
	}
	if c := o.Channels(); len(c) != testChannels || !approx(c[0].Conversion, 0.195e-6) {
		t.Errorf("Expected 3 channels of 0.195 uV, got %v", c)
	}
	ts, err := o.Timestamps()
	if err != nil || ts[0] != 10 {
		t.Errorf("Expected first timestamp 10, got %v (%v)", ts[:1], err)
	}
	ttl, err := o.TTLTimes()
	if err != nil {
		t.Fatal(err)
	}
	if len(ttl) != 2 || ttl[0] != 10.1 || ttl[1] != 10.3 {
		t.Errorf("Expected rising edges [10.1 10.3], got %v", ttl)
	}
}

func TestOpenEphys_UnknownStream(t *testing.T) {
	root := openEphysFolder(t)
	if _, err := OpenOpenEphys(root, "Record Node 102#Neuropix-PXI-100.ProbeB"); err == nil {
		t.Errorf("Expected error for unknown stream")
	}
	if _, err := OpenOpenEphys(root, "Record Node 101#Neuropix-PXI-100.ProbeA"); err == nil {
		t.Errorf("Expected error for unknown record node")
	}
	o, err := OpenOpenEphys(root, "")
	if err != nil {
		t.Fatalf("Expected the only stream to be selected, got %v", err)
	}
	o.Close()
}

func TestRecording_AppendStub(t *testing.T) {
	r, err := NewOpenEphys(openEphysFolder(t), testStream, Options{Stub: true, Region: "A1"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	r.SetTimeOffset(10.1)

	md := ecephysMetadata()
	if err := r.DescribeDefaults(md); err != nil {
		t.Fatal(err)
	}
	f := nwb.NewFile("id", "s", time.Now())
	if err := r.Append(f, md); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	o, ok := f.Acquisition("ElectricalSeries")
	if !ok {
		t.Fatalf("Expected ElectricalSeries in acquisition")
	}
	es := o.(*nwb.ElectricalSeries)
	if n := nwb.Rows(es.Data); n != StubSamples {
		t.Errorf("Expected %d stub samples, got %d", StubSamples, n)
	}
	ts, err := nwb.Float64Values(es.Timestamps)
	if err != nil {
		t.Fatal(err)
	}
	if len(ts) != StubSamples || !approx(ts[0], -0.1) || !approx(ts[1], -0.099) {
		t.Errorf("Expected timestamps from -0.1, got %v", ts[:2])
	}
	if !approx(es.Conversion, 0.195e-6) || es.ChannelConversion != nil {
		t.Errorf("Expected one shared conversion, got %v %v", es.Conversion, es.ChannelConversion)
	}
	frame, err := es.Data.Slice(2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if v := frame.([]int16); v[0] != 20 || v[2] != 22 {
		t.Errorf("Expected frame 2 to be [20 21 22], got %v", v)
	}
	if len(es.Electrodes) != testChannels || es.Electrodes[2] != 2 {
		t.Errorf("Expected electrode rows [0 1 2], got %v", es.Electrodes)
	}

	area, _ := f.Electrodes().Column("brain_area")
	if a := area.Strings(); len(a) != testChannels || a[1] != "Primary auditory cortex" {
		t.Errorf("Expected brain area from region A1, got %v", a)
	}
	g, ok := f.ElectrodeGroup("ProbeA")
	if !ok || g.Location != "Primary auditory cortex" || g.Device.Name != "NeuropixelsProbe" {
		t.Errorf("Expected ProbeA group at the A1 location, got %+v", g)
	}
}

func TestRecording_ZeroStart(t *testing.T) {
	r, err := NewOpenEphys(openEphysFolder(t), testStream, Options{ZeroStart: true})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ttl, err := r.TTLTimes()
	if err != nil {
		t.Fatal(err)
	}
	if !approx(ttl[0], 0.1) || !approx(ttl[1], 0.3) {
		t.Errorf("Expected pulses at 0.1 and 0.3 s, got %v", ttl)
	}
	r.SetTimeOffset(ttl[0])

	f := nwb.NewFile("id", "s", time.Now())
	md := ecephysMetadata()
	r.DescribeDefaults(md)
	if err := r.Append(f, md); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	o, _ := f.Acquisition("ElectricalSeries")
	es := o.(*nwb.ElectricalSeries)
	if es.Rate != 1000 || !approx(es.StartingTime, -0.1) || es.Timestamps != nil {
		t.Errorf("Expected 1 kHz from -0.1 s, got %v %v", es.Rate, es.StartingTime)
	}
	loc, _ := f.Electrodes().Column("location")
	if l := loc.Strings(); l[0] != "unknown" {
		t.Errorf("Expected the first group's location, got %v", l)
	}
}

func TestRecording_UnknownRegion(t *testing.T) {
	r, err := NewOpenEphys(openEphysFolder(t), testStream, Options{Region: "V1"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := r.ValidateMetadata(ecephysMetadata()); !errors.Is(err, metadata.ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
}

func TestWhiteMatter_Shanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HSW_2024_01_15__14_30_00__10min_0sec__hsamp_64ch_25000sps.bin")
	writeInt16(t, path, 10, 4, WhiteMatterHeader)
	r, err := NewWhiteMatter(path, 4, 0, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.NumSamples() != 10 {
		t.Errorf("Expected 10 samples after the header, got %d", r.NumSamples())
	}
	if _, err := r.TTLTimes(); !errors.Is(err, ErrNoTTL) {
		t.Errorf("Expected ErrNoTTL, got %v", err)
	}

	md := metadata.Base()
	md.Ecephys.Device = []nwb.Device{{Name: "WhiteMatterHeadstage", Description: "headstage"}}
	md.Ecephys.ElectrodeGroup = []metadata.ElectrodeGroup{
		{Name: "Shank1", Description: "shank 1", Location: "AC", Device: "WhiteMatterHeadstage"},
		{Name: "Shank2", Description: "shank 2", Location: "unknown", Device: "WhiteMatterHeadstage"},
	}
	r.DescribeDefaults(md)
	r.MarkAligned()
	f := nwb.NewFile("id", "s", time.Now())
	if err := r.Append(f, md); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	groups, _ := f.Electrodes().Column("group_name")
	if g := groups.Strings(); g[0] != "Shank1" || g[1] != "Shank1" || g[2] != "Shank2" || g[3] != "Shank2" {
		t.Errorf("Expected two channels per shank, got %v", g)
	}
	for _, name := range []string{"Shank1", "Shank2"} {
		g, ok := f.ElectrodeGroup(name)
		if !ok || g.Location != "AC" {
			t.Errorf("Expected %s located in AC, got %+v", name, g)
		}
	}
	o, _ := f.Acquisition("ElectricalSeries")
	es := o.(*nwb.ElectricalSeries)
	if es.Rate != WhiteMatterRate || es.StartingTime != 0 {
		t.Errorf("Expected %v Hz from 0, got %v from %v", WhiteMatterRate, es.Rate, es.StartingTime)
	}
	first, _ := es.Data.Slice(0, 1)
	if v := first.([]int16); v[3] != 3 {
		t.Errorf("Expected samples to start after the header, got %v", v)
	}
}

func TestWhiteMatter_UnevenShanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.bin")
	writeInt16(t, path, 2, 3, WhiteMatterHeader)
	if _, err := NewWhiteMatter(path, 3, 0, Options{}); err == nil {
		t.Errorf("Expected error for 3 channels on 2 shanks")
	}
}

func phyFolder(t *testing.T, curated bool) string {
	t.Helper()
	dir := t.TempDir()
	writeNpy(t, filepath.Join(dir, "spike_times.npy"), []uint64{30000, 60000, 45000})
	writeNpy(t, filepath.Join(dir, "spike_clusters.npy"), []int32{2, 0, 2})
	params := "dat_path = 'continuous.dat'\nn_channels_dat = 384\nsample_rate = 30000.0\nhp_filtered = False\n"
	if err := os.WriteFile(filepath.Join(dir, "params.py"), []byte(params), 0644); err != nil {
		t.Fatal(err)
	}
	if curated {
		if err := os.WriteFile(filepath.Join(dir, "cluster_group.tsv"), []byte("cluster_id\tgroup\n0\tgood\n2\tmua\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestSorting_Append(t *testing.T) {
	s, err := NewSorting(phyFolder(t, true), nil)
	if err != nil {
		t.Fatal(err)
	}
	s.SetTimeOffset(1)
	md := metadata.Base()
	s.DescribeDefaults(md)
	f := nwb.NewFile("id", "s", time.Now())
	if err := s.Append(f, md); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	units := f.Units("")
	if units.Rows() != 2 {
		t.Fatalf("Expected 2 units, got %d", units.Rows())
	}
	names, _ := units.Column("unit_name")
	if n := names.Strings(); n[0] != "0" || n[1] != "2" {
		t.Errorf("Expected units ordered by cluster id, got %v", n)
	}
	quality, _ := units.Column("quality")
	if q := quality.Strings(); q[0] != "good" || q[1] != "mua" {
		t.Errorf("Expected phy labels, got %v", q)
	}
	spikes, _ := units.Column("spike_times")
	times := spikes.Values()[1].([]float64)
	if len(times) != 2 || times[0] != 0 || times[1] != 0.5 {
		t.Errorf("Expected cluster 2 spikes at [0 0.5], got %v", times)
	}
}

func TestSorting_Uncurated(t *testing.T) {
	s, err := NewSorting(phyFolder(t, false), nil)
	if err != nil {
		t.Fatal(err)
	}
	f := nwb.NewFile("id", "s", time.Now())
	if err := s.Append(f, metadata.Base()); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, ok := f.Units("").Column("quality"); ok {
		t.Errorf("Expected no quality column without labels")
	}
}

func TestNewSorting_MissingParams(t *testing.T) {
	dir := phyFolder(t, false)
	os.Remove(filepath.Join(dir, "params.py"))
	if _, err := NewSorting(dir, nil); err == nil {
		t.Errorf("Expected error without params.py")
	}
}
