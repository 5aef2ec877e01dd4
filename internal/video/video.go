// Package video links behavior videos into the file as external
// ImageSeries.
package video

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/align"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// Interface converts the video files of one camera.
type Interface struct {
	convert.Clock

	paths  []string
	camera string
	prober Prober
	logger *slog.Logger
	probes []*Probe
}

// New returns an interface for the files of camera, the key of the
// camera's entry in the Video metadata section. Files are concatenated in
// the order given.
func New(paths []string, camera string, prober Prober, logger *slog.Logger) (*Interface, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("camera %s: no video files", camera)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("camera %s: %w", camera, err)
		}
	}
	if prober == nil {
		prober = FFProbe{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interface{paths: paths, camera: camera, prober: prober, logger: logger.With("interface", "video", "camera", camera)}, nil
}

// Camera is the metadata key of the camera.
func (v *Interface) Camera() string { return v.camera }

func (v *Interface) probe() ([]*Probe, error) {
	if v.probes != nil {
		return v.probes, nil
	}
	for _, p := range v.paths {
		probe, err := v.prober.Probe(p)
		if err != nil {
			return nil, err
		}
		v.probes = append(v.probes, probe)
	}
	return v.probes, nil
}

// Frames is the total number of frames across all files.
func (v *Interface) Frames() (int, error) {
	probes, err := v.probe()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range probes {
		n += p.Frames
	}
	return n, nil
}

// Timestamps returns the injected frame times, or frame times derived from
// the first file's rate shifted by the time offset.
func (v *Interface) Timestamps() (nwb.Data, error) {
	if ts := v.AlignedTimestamps(); ts != nil {
		return ts, nil
	}
	probes, err := v.probe()
	if err != nil {
		return nil, err
	}
	n, _ := v.Frames()
	return nwb.Vector(align.SampleTimes(n, probes[0].FrameRate, -v.TimeOffset())), nil
}

func (v *Interface) DescribeDefaults(md *metadata.Metadata) error {
	if _, ok := md.Video[v.camera]; ok {
		return nil
	}
	if md.Video == nil {
		md.Video = map[string]metadata.Camera{}
	}
	md.Video[v.camera] = metadata.Camera{
		Name:        v.camera,
		Description: "Video of the behaving mouse.",
		Device:      nwb.Device{Name: "Camera" + v.camera, Description: "Behavior camera."},
	}
	return nil
}

func (v *Interface) ValidateMetadata(md *metadata.Metadata) error {
	cam, ok := md.Video[v.camera]
	if !ok || cam.Name == "" {
		return fmt.Errorf("%w: Video.%s: 'name' is required", metadata.ErrInvalid, v.camera)
	}
	return nil
}

func (v *Interface) Append(f *nwb.File, md *metadata.Metadata) error {
	probes, err := v.probe()
	if err != nil {
		return err
	}
	cam := md.Video[v.camera]
	device := cam.Device
	var dev *nwb.Device
	if device.Name != "" {
		if dev, err = f.AddDevice(&device); err != nil {
			return err
		}
	}

	series := &nwb.ImageSeries{
		TimeSeries: nwb.TimeSeries{Name: cam.Name, Description: cam.Description, Unit: "n/a"},
		Device:     dev,
	}
	frame := 0
	for i, p := range v.paths {
		series.ExternalFile = append(series.ExternalFile, filepath.Base(p))
		series.StartingFrame = append(series.StartingFrame, frame)
		frame += probes[i].Frames
	}
	if ts := v.AlignedTimestamps(); ts != nil {
		if nwb.Rows(ts) != frame {
			return fmt.Errorf("camera %s: %d timestamps for %d frames", v.camera, nwb.Rows(ts), frame)
		}
		series.Timestamps = ts
	} else {
		for _, p := range probes[1:] {
			if p.FrameRate != probes[0].FrameRate {
				return fmt.Errorf("camera %s: files differ in frame rate and no timestamps were set", v.camera)
			}
		}
		series.Rate = probes[0].FrameRate
		series.StartingTime = -v.TimeOffset()
	}
	v.logger.Debug("Linked video", "files", len(v.paths), "frames", frame)
	return f.AddAcquisition(series)
}
