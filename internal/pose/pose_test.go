package pose

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/matfile"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

type fixedClock []float64

func (c fixedClock) Timestamps() (nwb.Data, error) { return nwb.Vector([]float64(c)), nil }

// analysisFile tracks 2 nodes over 3 frames for one animal. x of node j in
// frame i is 10*j+i, y is 100+x.
func analysisFile(t *testing.T) string {
	t.Helper()
	const frames, nodes = 3, 2
	data := make([]float64, frames*nodes*2)
	for c := 0; c < 2; c++ {
		for j := 0; j < nodes; j++ {
			for i := 0; i < frames; i++ {
				v := float64(10*j + i)
				if c == 1 {
					v += 100
				}
				data[i+frames*(j+nodes*c)] = v
			}
		}
	}
	root := matfile.NewStruct().
		Set("tracks", matfile.NewNumeric([]int{frames, nodes, 2, 1}, data)).
		Set("node_names", &matfile.Cell{Dims: []int{1, 2}, Elems: []matfile.Value{matfile.Char("nose"), matfile.Char("tail")}}).
		Set("point_scores", matfile.NewNumeric([]int{frames, nodes, 1}, []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4}))
	var buf bytes.Buffer
	if err := matfile.Encode(&buf, root); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "session.analysis.mat")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func poseMetadata() *metadata.Metadata {
	md := metadata.Base()
	md.Pose = metadata.Pose{Name: "PoseEstimation", Scorer: "SLEAP", SourceSoftware: "SLEAP"}
	md.Video = map[string]metadata.Camera{"Video": {Name: "BehaviorVideo", Device: nwb.Device{Name: "CamFlir1"}}}
	return md
}

func TestAppend(t *testing.T) {
	p, err := New(analysisFile(t), "Video", fixedClock{0, 0.5, 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsAligned() {
		t.Errorf("Expected a paired video to align poses")
	}
	f := nwb.NewFile("id", "s", time.Now())
	if err := p.Append(f, poseMetadata()); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	m, _ := f.Module("behavior")
	o, ok := m.Get("PoseEstimation")
	if !ok {
		t.Fatalf("Expected PoseEstimation in behavior module")
	}
	pe := o.(*nwb.PoseEstimation)
	if len(pe.Series) != 2 || pe.Series[1].Name != "tail" {
		t.Fatalf("Expected series nose and tail, got %d", len(pe.Series))
	}
	xy := pe.Series[1].Data.(*nwb.Array[float64]).Values
	if xy[0] != 10 || xy[1] != 110 || xy[4] != 12 {
		t.Errorf("Expected tail positions (10,110)...(12,112), got %v", xy)
	}
	conf, _ := nwb.Float64Values(pe.Series[1].Confidence)
	if conf[0] != 0.6 {
		t.Errorf("Expected tail confidence 0.6, got %v", conf)
	}
	if len(pe.Devices) != 1 || pe.Devices[0].Name != "CamFlir1" {
		t.Errorf("Expected camera device link")
	}
}

func TestAppend_FrameMismatch(t *testing.T) {
	p, _ := New(analysisFile(t), "Video", fixedClock{0, 1}, nil)
	if err := p.Append(nwb.NewFile("id", "s", time.Now()), poseMetadata()); err == nil {
		t.Errorf("Expected error for frame count mismatch")
	}
}

func TestAppend_NoClock(t *testing.T) {
	p, _ := New(analysisFile(t), "Video", nil, nil)
	if err := p.Append(nwb.NewFile("id", "s", time.Now()), poseMetadata()); !errors.Is(err, convert.ErrNotAligned) {
		t.Errorf("Expected ErrNotAligned, got %v", err)
	}
}
