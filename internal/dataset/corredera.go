package dataset

import (
	"fmt"
	"time"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/align"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/audio"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/ecephys"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/pose"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/stimulus"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/video"
)

// HeadstageChannels is the channel count of the two-shank probe.
const HeadstageChannels = 64

func init() {
	register(&Policy{
		Name:        "corredera_2025",
		Description: "Freely moving threat responses with WhiteMatter recordings, ultrasonic audio, stimuli, video and SLEAP poses.",
		Build:       buildCorredera,
		Align:       alignCorredera,
		Identify:    identifyCorredera,
		FileName:    correderaFileName,
	})
}

func buildCorredera(c *convert.Converter, s Session, opts Options) error {
	if err := required("stimulus file", s.StimulusFile); err != nil {
		return err
	}
	if s.EphysFile != "" {
		channels := s.NumChannels
		if channels == 0 {
			channels = HeadstageChannels
		}
		rec, err := ecephys.NewWhiteMatter(s.EphysFile, channels, ecephys.WhiteMatterRate, ecephys.Options{Stub: opts.Stub, Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("recording: %w", err)
		}
		if err := c.Register("Recording", rec); err != nil {
			rec.Close()
			return err
		}
	}
	if err := registerSorting(c, s.SortingFolder, c.Logger); err != nil {
		return fmt.Errorf("sorting: %w", err)
	}
	if s.AudioFile != "" {
		a, err := audio.New(s.AudioFile, audio.Options{Stub: opts.Stub, Logger: c.Logger})
		if err != nil {
			return err
		}
		if err := c.Register("Audio", a); err != nil {
			a.Close()
			return err
		}
	}
	stim, err := stimulus.New(s.StimulusFile, c.Logger)
	if err != nil {
		return err
	}
	if err := c.Register("Stimulus", stim); err != nil {
		return err
	}
	if len(s.VideoFiles) == 0 {
		return nil
	}
	v, err := video.New(s.VideoFiles, "Video", video.FFProbe{}, c.Logger)
	if err != nil {
		return err
	}
	if err := c.Register("Video", v); err != nil {
		return err
	}
	if s.PoseFile == "" {
		return nil
	}
	p, err := pose.New(s.PoseFile, "Video", v, c.Logger)
	if err != nil {
		return err
	}
	return c.Register("PoseEstimation", p)
}

// alignCorredera puts every stream on the stimulus computer clock. The
// microphone clock drifts against it, so audio times are interpolated
// between the samples counted at each TTL pulse.
func alignCorredera(c *convert.Converter, s Session, md *metadata.Metadata) error {
	iface, _ := c.Interface("Stimulus")
	stim := iface.(*stimulus.Interface)
	markAligned(c, "Recording", "Sorting")

	if iface, ok := c.Interface("Audio"); ok {
		a := iface.(*audio.Interface)
		samples, times, err := stim.AudioAnchors()
		if err != nil {
			return fmt.Errorf("audio anchors: %w", err)
		}
		ip, err := align.NewInterpolator(samples, times)
		if err != nil {
			return fmt.Errorf("audio anchors: %w", err)
		}
		if n := ip.Dropped(); n > 0 {
			c.Logger.Warn("Dropped audio anchors repeating a sample count", "dropped", n)
		}
		a.SetAlignedTimestamps(align.NewInterpolatedTimestamps(ip, a.NumSamples()))
	}

	if iface, ok := c.Interface("Video"); ok {
		v := iface.(*video.Interface)
		frames, err := stim.CameraFrameTimes()
		if err != nil {
			return fmt.Errorf("camera frame times: %w", err)
		}
		if frames == nil {
			v.SetTimeOffset(0)
			return nil
		}
		if !align.IsMonotonic(frames) {
			c.Logger.Warn("Camera frame times decrease", "file", s.StimulusFile)
		}
		n, err := v.Frames()
		if err != nil {
			return err
		}
		if len(frames) < n {
			return fmt.Errorf("%d camera frame times for %d video frames", len(frames), n)
		}
		if len(frames) > n {
			c.Logger.Warn("Dropping camera frame times past the last video frame", "frames", n, "times", len(frames))
		}
		v.SetAlignedTimestamps(nwb.Vector(frames[:n]))
	}
	return nil
}

// identifyCorredera takes the subject and session from the stimulus
// settings and the start time from the video, or audio, file name.
func identifyCorredera(md *metadata.Metadata, s Session, loc *time.Location) error {
	if md.Subject.Sex == "" {
		md.Subject.Sex = "U"
	}
	named := s.AudioFile
	if len(s.VideoFiles) > 0 {
		named = s.VideoFiles[0]
	}
	if named == "" {
		if md.NWBFile.SessionStartTime.IsZero() {
			return fmt.Errorf("%w: no video or audio file to read the start time from", metadata.ErrInvalid)
		}
		md.NWBFile.SessionStartTime = inLocation(md.NWBFile.SessionStartTime, loc)
		return nil
	}
	start, err := audio.StartTimeFromName(named, loc)
	if err != nil {
		return err
	}
	md.NWBFile.SessionStartTime = start
	return nil
}

func correderaFileName(s Session) (string, error) {
	stim, err := stimulus.New(s.StimulusFile, nil)
	if err != nil {
		return "", err
	}
	md := metadata.Base()
	if err := stim.DescribeDefaults(md); err != nil {
		return "", err
	}
	return nwb.FileName(md.Subject.SubjectID, md.NWBFile.SessionID), nil
}
