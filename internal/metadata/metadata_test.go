package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDeepUpdate(t *testing.T) {
	dst := map[string]any{
		"Subject":  map[string]any{"species": "Mus musculus", "sex": "U"},
		"Keywords": []any{"a", "b"},
	}
	src := map[string]any{
		"Subject":  map[string]any{"sex": "F"},
		"Keywords": []any{"c"},
		"New":      map[string]any{"x": 1},
	}
	got := DeepUpdate(dst, src)
	subject := got["Subject"].(map[string]any)
	if subject["species"] != "Mus musculus" || subject["sex"] != "F" {
		t.Errorf("Expected nested merge, got %v", subject)
	}
	if kw := got["Keywords"].([]any); len(kw) != 1 || kw[0] != "c" {
		t.Errorf("Expected lists to be replaced, got %v", kw)
	}
	if _, ok := got["New"].(map[string]any); !ok {
		t.Errorf("Expected new section to be added")
	}
}

func TestDatasetDefaults(t *testing.T) {
	names := Datasets()
	want := []string{"corredera_2025", "la_chioma_2024", "schneider_2024", "zempolich_2024"}
	if len(names) != len(want) {
		t.Fatalf("Expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, names)
		}
	}

	for _, name := range names {
		layer, err := DatasetDefaults(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		md, err := Resolve(Base(), layer)
		if err != nil {
			t.Fatalf("%s: Resolve failed: %v", name, err)
		}
		if md.NWBFile.SessionDescription == "" {
			t.Errorf("%s: Expected a session description", name)
		}
		if md.Subject.Species != "Mus musculus" {
			t.Errorf("%s: Expected species from base, got %q", name, md.Subject.Species)
		}
	}

	if _, err := DatasetDefaults("unknown"); err == nil {
		t.Errorf("Expected error for unknown dataset")
	}
}

func TestResolve_SchneiderBehavior(t *testing.T) {
	layer, _ := DatasetDefaults("schneider_2024")
	md, err := Resolve(Base(), layer)
	if err != nil {
		t.Fatal(err)
	}
	if len(md.Behavior.TimeSeries) != 3 {
		t.Errorf("Expected 3 time series, got %d", len(md.Behavior.TimeSeries))
	}
	if md.Optogenetics.OptogeneticStimulusSite.ExcitationLambda != 473 {
		t.Errorf("Expected excitation lambda 473, got %v", md.Optogenetics.OptogeneticStimulusSite.ExcitationLambda)
	}
	if md.Audio.Rate != 192000 {
		t.Errorf("Expected audio rate from base, got %v", md.Audio.Rate)
	}
}

func TestResolve_UserOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	content := `
NWBFile:
  session_start_time: "2023-10-29T10:21:26-04:00"
Subject:
  subject_id: m53
  sex: F
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	override, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	layer, _ := DatasetDefaults("zempolich_2024")
	md, err := Resolve(Base(), layer, override)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if md.Subject.SubjectID != "m53" || md.Subject.Sex != "F" {
		t.Errorf("Expected override subject m53/F, got %s/%s", md.Subject.SubjectID, md.Subject.Sex)
	}
	want := time.Date(2023, 10, 29, 14, 21, 26, 0, time.UTC)
	if !md.NWBFile.SessionStartTime.Equal(want) {
		t.Errorf("Expected start %v, got %v", want, md.NWBFile.SessionStartTime)
	}
	if md.Ecephys.FolderNameToStartDatetime["m53/Day1_A1"] == "" {
		t.Errorf("Expected folder start times from dataset defaults")
	}
	if err := md.Validate(); err != nil {
		t.Errorf("Expected valid metadata, got %v", err)
	}
	if err := md.ValidateBehavior(); err != nil {
		t.Errorf("Expected valid behavior metadata, got %v", err)
	}
}

func TestResolve_UnknownKey(t *testing.T) {
	_, err := Resolve(Base(), map[string]any{"Subject": map[string]any{"subjectid": "typo"}})
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid for an unknown key, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	md := Base()
	if err := md.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid for empty metadata, got %v", err)
	}
	md.NWBFile.SessionDescription = "session"
	md.NWBFile.SessionStartTime = time.Now()
	md.Subject.SubjectID = "m1"
	md.Subject.Sex = "X"
	if err := md.Validate(); err == nil {
		t.Errorf("Expected error for invalid sex")
	}
	md.Subject.Sex = "M"
	if err := md.Validate(); err != nil {
		t.Errorf("Expected valid metadata, got %v", err)
	}

	md.Behavior.Module.Name = "behavior"
	md.Behavior.Events = []Named{{Name: "valve"}}
	md.Behavior.ValuedEvents = []Named{{Name: "valve"}}
	if err := md.ValidateBehavior(); err == nil {
		t.Errorf("Expected error for an event listed twice")
	}
	md.Behavior.ValuedEvents = nil
	md.Behavior.Trials = []TrialColumn{{Name: "x", DType: "complex"}}
	if err := md.ValidateBehavior(); err == nil {
		t.Errorf("Expected error for unknown trial dtype")
	}
}

func TestClone(t *testing.T) {
	md := Base()
	md.Behavior.TimeSeries = []Series{{Name: "lick"}}
	c, err := md.Clone()
	if err != nil {
		t.Fatal(err)
	}
	c.Behavior.TimeSeries[0].Name = "changed"
	if md.Behavior.TimeSeries[0].Name != "lick" {
		t.Errorf("Expected clone to be independent")
	}
}
