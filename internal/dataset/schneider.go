package dataset

import (
	"errors"
	"fmt"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/align"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/behavior"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/ecephys"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/isoi"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/ogen"
)

// SignalsStream is the headstage stream of the lever task rigs.
const SignalsStream = "Signals CH"

func init() {
	register(&Policy{
		Name:        "schneider_2024",
		Description: "Lever task with Open Ephys recordings, Phy sorting, pulse-train optogenetics and intrinsic signal imaging.",
		Build:       buildSchneider,
		Align:       alignSchneider,
		Identify:    identifyLeverSession,
		FileName:    leverFileName,
	})
}

func buildSchneider(c *convert.Converter, s Session, opts Options) error {
	if err := required("behavior file", s.BehaviorFile); err != nil {
		return err
	}
	if s.EphysFolder != "" {
		rec, err := openEphysRecording(s.EphysFolder, SignalsStream, ecephys.Options{
			Stub:      opts.Stub,
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
		sorting := s.SortingFolder
		if sorting == "" {
			sorting = s.EphysFolder
		}
		if err := registerSorting(c, sorting, c.Logger); err != nil {
			return fmt.Errorf("sorting: %w", err)
		}
	}

	b, err := behavior.New(s.BehaviorFile, behavior.EventsTableLayout, c.Logger)
	if err != nil {
		return err
	}
	if err := c.Register("Behavior", b); err != nil {
		return err
	}
	if s.HasOpto {
		o, err := ogen.New(s.BehaviorFile, ogen.PulseTrain, s.BrainRegion, c.Logger)
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
	return registerCameras(c, s.VideoFiles, func(i int) string {
		if i == 0 {
			return "Video"
		}
		return fmt.Sprintf("Video%d", i+1)
	}, c.Logger)
}

// alignSchneider takes the first TTL pulse of the recording as time zero.
// The behavior rig starts its clock on that pulse.
func alignSchneider(c *convert.Converter, s Session, md *metadata.Metadata) error {
	ref := 0.0
	if iface, ok := c.Interface("Recording"); ok {
		ttl, err := iface.(*ecephys.Recording).TTLTimes()
		switch {
		case errors.Is(err, ecephys.ErrNoTTL):
			c.Logger.Warn("Recording has no TTL pulses, keeping its own start as zero")
		case err != nil:
			return err
		default:
			if first, ok := align.FirstFinite(ttl); ok {
				ref = first
			}
		}
	}
	shift(c, ref, "Recording", "Sorting")
	markAligned(c, "Behavior", "Optogenetic")
	startCameras(c, "Video")
	return nil
}
