package dataset

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/behavior"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/ecephys"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// NeuropixelsStream is the probe stream of the wheel rig.
const NeuropixelsStream = "Record Node 102#Neuropix-PXI-100.ProbeA"

// recordingFolder matches Open Ephys session folders such as
// "AL240404c_2024-04-22_17-45-19".
var recordingFolder = regexp.MustCompile(`^(.+)_(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})$`)

func init() {
	register(&Policy{
		Name:        "la_chioma_2024",
		Description: "Wheel running in a virtual environment with Neuropixels recordings.",
		Build:       buildLaChioma,
		Align:       alignLaChioma,
		Identify:    identifyLaChioma,
		FileName:    laChiomaFileName,
	})
}

func buildLaChioma(c *convert.Converter, s Session, opts Options) error {
	if err := required("ephys folder", s.EphysFolder); err != nil {
		return err
	}
	rec, err := openEphysRecording(s.EphysFolder, NeuropixelsStream, ecephys.Options{Stub: opts.Stub, Logger: c.Logger})
	if err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	if err := c.Register("Recording", rec); err != nil {
		rec.Close()
		return err
	}
	if err := registerSorting(c, s.SortingFolder, c.Logger); err != nil {
		return fmt.Errorf("sorting: %w", err)
	}
	if s.BehaviorFile == "" {
		return nil
	}
	b, err := behavior.New(s.BehaviorFile, behavior.WheelLayout, c.Logger)
	if err != nil {
		return err
	}
	return c.Register("Behavior", b)
}

// alignLaChioma keeps the Open Ephys clock. The wheel is logged on it.
func alignLaChioma(c *convert.Converter, s Session, md *metadata.Metadata) error {
	markAligned(c, "Recording", "Sorting", "Behavior")
	return nil
}

// recordingIDs finds the session folder at or above dir and returns the
// subject, the session id and the start time it names.
func recordingIDs(dir string, loc *time.Location) (subject, session string, start time.Time, err error) {
	for d := filepath.Clean(dir); ; d = filepath.Dir(d) {
		if m := recordingFolder.FindStringSubmatch(filepath.Base(d)); m != nil {
			start, err = time.ParseInLocation("2006-01-02_15-04-05", m[2], loc)
			if err != nil {
				return "", "", time.Time{}, fmt.Errorf("recording folder %q: %w", filepath.Base(d), err)
			}
			return m[1], start.Format("20060102-150405"), start, nil
		}
		if filepath.Dir(d) == d {
			return "", "", time.Time{}, fmt.Errorf("no <subject>_<date>_<time> folder above %s", dir)
		}
	}
}

func laChiomaFileName(s Session) (string, error) {
	subject, session, _, err := recordingIDs(s.EphysFolder, time.UTC)
	if err != nil {
		return "", err
	}
	return nwb.FileName(subject, session), nil
}

func identifyLaChioma(md *metadata.Metadata, s Session, loc *time.Location) error {
	subject, session, start, err := recordingIDs(s.EphysFolder, loc)
	if err != nil {
		// Explicit ids and a configured start time stand in for the folder name.
		if s.SubjectID != "" && s.SessionID != "" && !md.NWBFile.SessionStartTime.IsZero() {
			md.NWBFile.SessionStartTime = inLocation(md.NWBFile.SessionStartTime, loc)
			return nil
		}
		return err
	}
	md.Subject.SubjectID = subject
	md.NWBFile.SessionID = session
	md.NWBFile.SessionStartTime = start
	return nil
}
