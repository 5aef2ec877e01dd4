package dataset

import (
	"fmt"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/behavior"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/ecephys"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/isoi"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/ogen"
)

// Regions are the cortical areas of the lever task experiments.
var Regions = []string{"A1", "M2"}

func init() {
	register(&Policy{
		Name:        "zempolich_2024",
		Description: "Lever task with A1/M2 Open Ephys recordings or square-wave optogenetic silencing.",
		Build:       buildZempolich,
		Align:       alignZempolich,
		Identify:    identifyLeverSession,
		Discover:    discoverZempolich,
		FileName:    leverFileName,
	})
}

func buildZempolich(c *convert.Converter, s Session, opts Options) error {
	if err := required("behavior file", s.BehaviorFile); err != nil {
		return err
	}
	region := s.BrainRegion
	if region == "" {
		region = Regions[0]
	}
	if s.EphysFolder != "" {
		rec, err := openEphysRecording(s.EphysFolder, SignalsStream, ecephys.Options{
			Stub:      opts.Stub,
			Region:    region,
			ZeroStart: true,
			Logger:    c.Logger,
		})
		if err != nil {
			return fmt.Errorf("recording: %w", err)
		}
		if err := c.Register("Recording", rec); err != nil {
			rec.Close()
			return err
		}
		if err := registerSorting(c, s.EphysFolder, c.Logger); err != nil {
			return fmt.Errorf("sorting: %w", err)
		}
	}

	b, err := behavior.New(s.BehaviorFile, behavior.AnnotatedLayout, c.Logger)
	if err != nil {
		return err
	}
	if err := c.Register("Behavior", b); err != nil {
		return err
	}
	if s.HasOpto {
		o, err := ogen.New(s.BehaviorFile, ogen.Square, region, c.Logger)
		if err != nil {
			return err
		}
		if err := c.Register("Optogenetic", o); err != nil {
			return err
		}
	}
	if s.ISOIFolder != "" {
		i, err := isoi.New(s.ISOIFolder, c.Logger)
		if err != nil {
			return err
		}
		if err := c.Register("IntrinsicSignalOpticalImaging", i); err != nil {
			return err
		}
	}
	return registerCameras(c, s.VideoFiles, func(i int) string { return fmt.Sprintf("VideoCamera%d", i+1) }, c.Logger)
}

// alignZempolich keeps recordings on their own clock, starting at zero.
// Opto sessions have no recording; their behavior and laser streams start
// at the first sample of the first behavior stream.
func alignZempolich(c *convert.Converter, s Session, md *metadata.Metadata) error {
	markAligned(c, "Recording", "Sorting")
	startCameras(c, "VideoCamera")
	if !s.HasOpto {
		markAligned(c, "Behavior")
		return nil
	}
	iface, _ := c.Interface("Behavior")
	start, err := iface.(*behavior.Interface).StartingTimestamp(md)
	if err != nil {
		return fmt.Errorf("behavior start: %w", err)
	}
	shift(c, start, "Behavior", "Optogenetic")
	return nil
}
