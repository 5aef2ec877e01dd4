// Package pose converts SLEAP analysis files into a PoseEstimation.
package pose

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/matfile"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// FrameClock gives the time of every video frame.
type FrameClock interface {
	Timestamps() (nwb.Data, error)
}

// Interface converts one SLEAP analysis file.
type Interface struct {
	convert.Clock

	path   string
	camera string
	frames FrameClock
	logger *slog.Logger
}

// New returns an interface for path. Poses take their times from frames,
// the clock of the tracked video, unless aligned timestamps are set. camera
// names the Video metadata entry whose device is linked.
func New(path, camera string, frames FrameClock, logger *slog.Logger) (*Interface, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("pose file: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Interface{path: path, camera: camera, frames: frames, logger: logger.With("interface", "pose")}
	if frames != nil {
		p.MarkAligned()
	}
	return p, nil
}

func (p *Interface) DescribeDefaults(md *metadata.Metadata) error {
	if md.Pose.Name == "" {
		md.Pose.Name = "PoseEstimation"
		md.Pose.SourceSoftware = "SLEAP"
	}
	return nil
}

// tracks are stored as (tracks, 2, nodes, frames) in the file, so frames
// vary fastest.
type tracks struct {
	data   *matfile.Numeric
	frames int
	nodes  int
}

func (t tracks) at(track, coord, node, frame int) float64 {
	return t.data.Data[frame+t.frames*(node+t.nodes*(coord+2*track))]
}

func (p *Interface) Append(f *nwb.File, md *metadata.Metadata) error {
	file, err := matfile.Load(p.path)
	if err != nil {
		return err
	}
	v, err := file.Require("tracks")
	if err != nil {
		return err
	}
	data, ok := v.(*matfile.Numeric)
	if !ok || len(data.Dims) < 3 {
		return fmt.Errorf("tracks: expected a 4-D array")
	}
	tr := tracks{data: data, frames: data.Dims[0], nodes: data.Dims[1]}
	if len(data.Dims) > 2 && data.Dims[2] != 2 {
		return fmt.Errorf("tracks: expected x and y coordinates, got %d", data.Dims[2])
	}

	nv, err := file.Require("node_names")
	if err != nil {
		return err
	}
	nodes, err := matfile.Strings(nv)
	if err != nil {
		return fmt.Errorf("node_names: %w", err)
	}
	if len(nodes) != tr.nodes {
		return fmt.Errorf("%d node names for %d tracked nodes", len(nodes), tr.nodes)
	}

	var scores *matfile.Numeric
	if sv, ok := file.Field("point_scores"); ok {
		scores, _ = sv.(*matfile.Numeric)
	}

	timestamps := p.AlignedTimestamps()
	if timestamps == nil {
		if p.frames == nil {
			return convert.ErrNotAligned
		}
		if timestamps, err = p.frames.Timestamps(); err != nil {
			return err
		}
	}
	if nwb.Rows(timestamps) != tr.frames {
		return fmt.Errorf("%d frame times for %d tracked frames", nwb.Rows(timestamps), tr.frames)
	}

	cfg := md.Pose
	estimation := &nwb.PoseEstimation{
		Name:           cfg.Name,
		Description:    cfg.Description,
		SourceSoftware: cfg.SourceSoftware,
		Scorer:         cfg.Scorer,
		Nodes:          nodes,
	}
	// Only the first track is kept: one animal per session.
	for j, node := range nodes {
		xy := make([]float64, 0, 2*tr.frames)
		for i := 0; i < tr.frames; i++ {
			xy = append(xy, tr.at(0, 0, j, i), tr.at(0, 1, j, i))
		}
		positions, err := nwb.Matrix(xy, tr.frames, 2)
		if err != nil {
			return err
		}
		s := &nwb.PoseEstimationSeries{
			TimeSeries: nwb.TimeSeries{
				Name:        node,
				Description: fmt.Sprintf("Estimated position of %s.", node),
				Unit:        "pixels",
				Data:        positions,
				Timestamps:  timestamps,
			},
			ReferenceFrame: cfg.ReferenceFrame,
		}
		if scores != nil {
			// point_scores is (tracks, nodes, frames).
			conf := make([]float64, tr.frames)
			for i := range conf {
				conf[i] = scores.Data[i+tr.frames*j]
			}
			s.Confidence = nwb.Vector(conf)
		}
		estimation.Series = append(estimation.Series, s)
	}

	if cam, ok := md.Video[p.camera]; ok && cam.Device.Name != "" {
		device := cam.Device
		dev, err := f.AddDevice(&device)
		if err != nil {
			return err
		}
		estimation.Devices = append(estimation.Devices, dev)
	}
	p.logger.Debug("Pose estimation", "nodes", len(nodes), "frames", tr.frames)
	module := md.Behavior.Module
	if module.Name == "" {
		module = metadata.Module{Name: "behavior", Description: "Processed behavioral data."}
	}
	return f.ProcessingModule(module.Name, module.Description).Add(estimation)
}
