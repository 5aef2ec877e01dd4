package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/align"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// writeMic writes frames of 4 channels where channel c of frame i holds
// i + c/10.
func writeMic(t *testing.T, name string, frames int) string {
	t.Helper()
	buf := make([]byte, frames*DefaultChannels*bytesPerSample)
	for i := 0; i < frames; i++ {
		for c := 0; c < DefaultChannels; c++ {
			v := float32(i) + float32(c)/10
			binary.LittleEndian.PutUint32(buf[(i*DefaultChannels+c)*bytesPerSample:], math.Float32bits(v))
		}
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMic_Slice(t *testing.T) {
	m, err := OpenMic(writeMic(t, "rec.mic", 10), DefaultChannels)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if m.Samples() != 10 {
		t.Errorf("Expected 10 samples, got %d", m.Samples())
	}
	d := m.Data(100)
	if s := d.Shape(); s[0] != 10 || s[1] != 4 {
		t.Errorf("Expected shape [10 4], got %v", s)
	}
	rows, err := d.Slice(2, 4)
	if err != nil {
		t.Fatal(err)
	}
	values := rows.([]float32)
	if len(values) != 8 || values[0] != 2 || values[5] != float32(3)+float32(1)/10 {
		t.Errorf("Expected frames 2 and 3, got %v", values)
	}
	if _, err := d.Slice(9, 11); err == nil {
		t.Errorf("Expected error beyond the last row")
	}
}

func TestStartTimeFromName(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("timezone database not available")
	}
	got, err := StartTimeFromName("/data/m14/mic_20240115_143000.mic", loc)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 1, 15, 19, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if _, err := StartTimeFromName("recording.mic", loc); err == nil {
		t.Errorf("Expected error for a name without a timestamp")
	}
}

func TestAppend_RateAndStub(t *testing.T) {
	path := writeMic(t, "mic_20240115_143000.mic", 50)
	a, err := New(path, Options{Stub: true})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if a.NumSamples() != 50 {
		t.Errorf("Expected stub to keep all 50 samples, got %d", a.NumSamples())
	}
	a.SetTimeOffset(1.5)

	md := metadata.Base()
	md.Audio.Microphones = []nwb.Device{{Name: "Microphone1", Description: "m"}}
	if err := a.ValidateMetadata(md); err != nil {
		t.Fatal(err)
	}
	f := nwb.NewFile("id", "s", time.Now())
	if err := a.Append(f, md); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	o, ok := f.Acquisition("AudioRecording")
	if !ok {
		t.Fatalf("Expected AudioRecording in acquisition")
	}
	s := o.(*nwb.TimeSeries)
	if s.Rate != 192000 || s.StartingTime != -1.5 || s.Unit != "V" {
		t.Errorf("Expected 192 kHz from -1.5 s in V, got %v %v %s", s.Rate, s.StartingTime, s.Unit)
	}
	if _, ok := f.Device("Microphone1"); !ok {
		t.Errorf("Expected microphone device")
	}
}

func TestAppend_StubTruncates(t *testing.T) {
	path := writeMic(t, "mic.mic", 200000)
	a, err := New(path, Options{Stub: true})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if a.NumSamples() != StubSamples {
		t.Errorf("Expected stub to keep %d samples, got %d", StubSamples, a.NumSamples())
	}

	md := metadata.Base()
	md.Audio.Microphones = []nwb.Device{{Name: "Microphone1", Description: "m"}}
	f := nwb.NewFile("id", "s", time.Now())
	if err := a.Append(f, md); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	o, ok := f.Acquisition("AudioRecording")
	if !ok {
		t.Fatalf("Expected AudioRecording in acquisition")
	}
	if rows := nwb.Rows(o.(*nwb.TimeSeries).Data); rows != StubSamples {
		t.Errorf("Expected %d rows, got %d", StubSamples, rows)
	}
}

func TestAppend_Interpolated(t *testing.T) {
	path := writeMic(t, "mic.mic", 20)
	a, err := New(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	ip, err := align.NewInterpolator([]float64{0, 10}, []float64{100, 101})
	if err != nil {
		t.Fatal(err)
	}
	a.SetAlignedTimestamps(align.NewInterpolatedTimestamps(ip, a.NumSamples()))

	f := nwb.NewFile("id", "s", time.Now())
	if err := a.Append(f, metadata.Base()); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	o, _ := f.Acquisition("AudioRecording")
	ts, err := nwb.Float64Values(o.(*nwb.TimeSeries).Timestamps)
	if err != nil {
		t.Fatal(err)
	}
	if ts[5] != 100.5 || ts[10] != 101 || !math.IsNaN(ts[15]) {
		t.Errorf("Expected 100.5, 101 and NaN past the last anchor, got %v %v %v", ts[5], ts[10], ts[15])
	}
}
