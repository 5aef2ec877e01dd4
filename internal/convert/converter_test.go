package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

type recordingStage struct {
	name  string
	order *[]string
}

func (s *recordingStage) DescribeDefaults(md *metadata.Metadata) error {
	md.NWBFile.SessionDescription = "described by " + s.name
	return nil
}

func (s *recordingStage) Append(f *nwb.File, md *metadata.Metadata) error {
	*s.order = append(*s.order, s.name)
	mod := f.ProcessingModule("behavior", "behavior")
	return mod.Add(&nwb.Events{Name: s.name, Timestamps: []float64{1}})
}

type clockedStage struct {
	Clock
	appended bool
}

func (s *clockedStage) DescribeDefaults(*metadata.Metadata) error { return nil }

func (s *clockedStage) Append(f *nwb.File, _ *metadata.Metadata) error {
	s.appended = true
	return nil
}

func validMetadata(t *testing.T, c *Converter) *metadata.Metadata {
	t.Helper()
	md, err := c.Metadata(map[string]any{
		"NWBFile": map[string]any{"session_start_time": "2024-01-02T03:04:05Z"},
		"Subject": map[string]any{"subject_id": "m1"},
	})
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	return md
}

func TestConverter_OrderAndDefaults(t *testing.T) {
	var order []string
	c := New(nil)
	c.Register("first", &recordingStage{name: "first", order: &order})
	c.Register("second", &recordingStage{name: "second", order: &order})
	if err := c.Register("first", &recordingStage{name: "dup", order: &order}); !errors.Is(err, nwb.ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName, got %v", err)
	}

	md := validMetadata(t, c)
	if md.NWBFile.SessionDescription != "described by second" {
		t.Errorf("Expected later defaults to win, got %q", md.NWBFile.SessionDescription)
	}

	f, err := c.Build(context.Background(), md)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("Expected [first second], got %v", order)
	}
	if f.Subject.SubjectID != "m1" {
		t.Errorf("Expected subject m1, got %s", f.Subject.SubjectID)
	}

	if _, err := c.Build(context.Background(), md); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("Expected ErrAlreadyRun on second run, got %v", err)
	}
}

func TestConverter_RequiresAlignment(t *testing.T) {
	stage := &clockedStage{}
	c := New(nil)
	c.Register("audio", stage)
	md := validMetadata(t, c)
	md.NWBFile.SessionDescription = "s"

	_, err := c.Build(context.Background(), md)
	if !errors.Is(err, ErrNotAligned) {
		t.Errorf("Expected ErrNotAligned, got %v", err)
	}
	if stage.appended {
		t.Errorf("Expected no append before alignment")
	}
}

func TestConverter_AlignsOnce(t *testing.T) {
	stage := &clockedStage{}
	c := New(nil)
	c.Register("audio", stage)
	calls := 0
	c.Align = func(c *Converter) error {
		calls++
		iface, _ := c.Interface("audio")
		iface.(TimeAligner).SetTimeOffset(2.5)
		return nil
	}
	md := validMetadata(t, c)
	md.NWBFile.SessionDescription = "s"
	if _, err := c.Build(context.Background(), md); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected alignment to run once, got %d", calls)
	}
	if stage.TimeOffset() != 2.5 || !stage.appended {
		t.Errorf("Expected aligned stage to be appended with offset 2.5")
	}
}

func TestConverter_InvalidMetadata(t *testing.T) {
	var order []string
	c := New(nil)
	c.Register("first", &recordingStage{name: "first", order: &order})
	md, err := c.Metadata()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Build(context.Background(), md); !errors.Is(err, metadata.ErrInvalid) {
		t.Errorf("Expected ErrInvalid without a subject, got %v", err)
	}
	if len(order) != 0 {
		t.Errorf("Expected no stage to run, got %v", order)
	}
}

func TestConverter_Run(t *testing.T) {
	var order []string
	c := New(nil)
	c.Register("first", &recordingStage{name: "first", order: &order})
	md := validMetadata(t, c)
	md.NWBFile.SessionStartTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	path := filepath.Join(t.TempDir(), "out", nwb.FileName("m1", "s1"))
	if err := c.Run(context.Background(), md, Output{Path: path, Backend: "zarr"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "processing", "behavior", "first")); err != nil {
		t.Errorf("Expected events group in output, got %v", err)
	}
}
