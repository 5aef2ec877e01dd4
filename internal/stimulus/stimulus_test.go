package stimulus

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/matfile"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

func stimulusFile(withVisual bool) *matfile.Struct {
	fullBattery := matfile.NewStruct().
		Set("button_cnt", matfile.Scalar(2)).
		Set("wavFiles_fullpath", &matfile.Cell{Dims: []int{1, 2}, Elems: []matfile.Value{
			matfile.Char(`C:\stimuli\sound01_F2000_L65_D0.1+0.005.wav`),
			matfile.Char(`C:\stimuli\sound02_F4000_L65_D0.1+0.005.wav`),
		}}).
		Set("soundFS", matfile.Vector(192000, 96000)).
		Set("soundData", &matfile.Cell{Dims: []int{1, 2}, Elems: []matfile.Value{
			matfile.NewNumeric([]int{2, 4}, []float64{1, -1, 2, -2, 3, -3, 4, -4}),
			matfile.Vector(0.5, 0.25),
		}}).
		Set("soundTimeStamps", &matfile.Cell{Dims: []int{1, 2}, Elems: []matfile.Value{
			matfile.Vector(1, 2, 3),
			matfile.Scalar(5),
		}})
	exploration := matfile.NewStruct().Set("button_cnt", matfile.Scalar(0))
	threat := matfile.NewStruct().
		Set("button_cnt", matfile.Scalar(1)).
		Set("wavFiles_fullpath", matfile.Char(`C:\stimuli\sound01_F2000_L65_D0.1+0.005.wav`)).
		Set("soundFS", matfile.Scalar(192000)).
		Set("soundData", matfile.NewNumeric([]int{2, 4}, []float64{1, -1, 2, -2, 3, -3, 4, -4})).
		Set("soundTimeStamps", matfile.Scalar(10))

	vis := matfile.NewStruct().Set("visTimeStamps", matfile.NewNumeric([]int{0, 0}, nil))
	if withVisual {
		vis = matfile.NewStruct().
			Set("visTimeStamps", matfile.NewNumeric([]int{2, 3}, []float64{1, 4, 2, 5, 3, 6})).
			Set("expansionSpeed", matfile.Vector(10, 20)).
			Set("diskColor", matfile.Scalar(0))
	}

	return matfile.NewStruct().
		Set("settings", matfile.NewStruct().Set("animalID", matfile.Char("m14")).Set("date_str", matfile.Char("2024-12-12"))).
		Set("sounds", matfile.NewStruct().Set("fullBattery", fullBattery).Set("exploration", exploration).Set("threat", threat)).
		Set("vis", vis).
		Set("audio", matfile.NewStruct().
			Set("samplesPerTTL", matfile.Vector(0, 100, 100)).
			Set("ttlTimes", matfile.Vector(5, 6, 7)))
}

func writeMat(t *testing.T, root *matfile.Struct) string {
	t.Helper()
	var buf bytes.Buffer
	if err := matfile.Encode(&buf, root); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "stimulus.mat")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func stimulusMetadata(t *testing.T, s *Interface) *metadata.Metadata {
	t.Helper()
	layer, err := metadata.DatasetDefaults("corredera_2025")
	if err != nil {
		t.Fatal(err)
	}
	md := metadata.Base()
	if err := s.DescribeDefaults(md); err != nil {
		t.Fatalf("DescribeDefaults failed: %v", err)
	}
	md, err = metadata.Resolve(md, layer)
	if err != nil {
		t.Fatal(err)
	}
	return md
}

func TestDescribeDefaults(t *testing.T) {
	s, err := New(writeMat(t, stimulusFile(true)), nil)
	if err != nil {
		t.Fatal(err)
	}
	md := stimulusMetadata(t, s)
	if md.Subject.SubjectID != "m14" || md.NWBFile.SessionID != "2024-12-12" {
		t.Errorf("Expected m14 / 2024-12-12, got %s / %s", md.Subject.SubjectID, md.NWBFile.SessionID)
	}
}

func TestAppend(t *testing.T) {
	s, _ := New(writeMat(t, stimulusFile(true)), nil)
	md := stimulusMetadata(t, s)
	f := nwb.NewFile("id", "s", time.Now())
	if err := s.Append(f, md); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if n := len(f.StimulusTemplates()); n != 2 {
		t.Errorf("Expected 2 templates, got %d", n)
	}
	o, ok := f.StimulusTemplate("sound01_F2000_L65_D0.1+0.005")
	if !ok {
		t.Fatalf("Expected template named after the wav file")
	}
	template := o.(*nwb.TimeSeries)
	waveform, _ := nwb.Float64Values(template.Data)
	if len(waveform) != 4 || waveform[0] != 1 || waveform[3] != 4 {
		t.Errorf("Expected first channel [1 2 3 4], got %v", waveform)
	}
	if template.Rate != 192000 || template.Unit != "a.u." {
		t.Errorf("Expected rate 192000 in a.u., got %v %s", template.Rate, template.Unit)
	}

	o, _ = f.StimulusPresentation("AudioStimulus")
	audio := o.(*nwb.Table)
	if audio.Rows() != 5 {
		t.Errorf("Expected 5 presentations, got %d", audio.Rows())
	}
	names, _ := audio.Column("stimulus_name")
	if n := names.Strings(); n[3] != "sound02_F4000_L65_D0.1+0.005" || n[4] != "sound01_F2000_L65_D0.1+0.005" {
		t.Errorf("Expected sound02 then the threat replay of sound01, got %v", n)
	}

	o, ok = f.StimulusPresentation("VisualStimulus")
	if !ok {
		t.Fatalf("Expected VisualStimulus table")
	}
	visual := o.(*nwb.Table)
	if visual.Rows() != 2 {
		t.Fatalf("Expected 2 visual stimuli, got %d", visual.Rows())
	}
	peak, _ := visual.Column("peak_expansion_time")
	if p := peak.Float64s(); p[0] != 2 || p[1] != 5 {
		t.Errorf("Expected peak times [2 5], got %v", p)
	}
	speed, ok := visual.Column("expansionSpeed")
	if !ok || speed.Float64s()[1] != 20 {
		t.Errorf("Expected per-row expansion speed")
	}
	color, ok := visual.Column("diskColor")
	if !ok || color.Float64s()[1] != 0 {
		t.Errorf("Expected disk color shared by every row")
	}
	if _, ok := f.Device("Speaker"); !ok {
		t.Errorf("Expected speaker device")
	}
}

func TestAppend_NoVisualStimulus(t *testing.T) {
	s, _ := New(writeMat(t, stimulusFile(false)), nil)
	md := stimulusMetadata(t, s)
	f := nwb.NewFile("id", "s", time.Now())
	if err := s.Append(f, md); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, ok := f.StimulusPresentation("VisualStimulus"); ok {
		t.Errorf("Expected no visual table without visual stimuli")
	}
}

func TestAudioAnchors(t *testing.T) {
	s, _ := New(writeMat(t, stimulusFile(false)), nil)
	samples, times, err := s.AudioAnchors()
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 3 || samples[2] != 200 || times[0] != 5 {
		t.Errorf("Expected cumulative samples [0 100 200] at [5 6 7], got %v %v", samples, times)
	}
	frames, err := s.CameraFrameTimes()
	if err != nil || frames != nil {
		t.Errorf("Expected no camera frame times, got %v %v", frames, err)
	}
}

func TestAudioAnchors_DecreasingCumulativeSamples(t *testing.T) {
	root := stimulusFile(false).Set("audio", matfile.NewStruct().
		Set("cumulativeSamples", matfile.Vector(0, 100, 50)).
		Set("ttlTimes", matfile.Vector(5, 6, 7)))
	s, _ := New(writeMat(t, root), nil)
	samples, _, err := s.AudioAnchors()
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 3 || samples[1] != 100 || samples[2] != 150 {
		t.Errorf("Expected per-pulse counts accumulated to [0 100 150], got %v", samples)
	}

	root = stimulusFile(false).Set("audio", matfile.NewStruct().
		Set("cumulativeSamples", matfile.Vector(0, 100, 250)).
		Set("ttlTimes", matfile.Vector(5, 6, 7)))
	s, _ = New(writeMat(t, root), nil)
	samples, _, err = s.AudioAnchors()
	if err != nil {
		t.Fatal(err)
	}
	if samples[2] != 250 {
		t.Errorf("Expected increasing running totals kept as is, got %v", samples)
	}
}

func TestWindowsStem(t *testing.T) {
	cases := map[string]string{
		`C:\a\b\sound01.wav`: "sound01",
		"/data/sound02.wav":  "sound02",
		"plain":              "plain",
	}
	for in, want := range cases {
		if got := windowsStem(in); got != want {
			t.Errorf("Expected %q for %q, got %q", want, in, got)
		}
	}
}
