package dataset

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// Lever task sessions are named by their behavior file,
// "raw_<subject>_<yymmdd>_<run>.mat".

func leverIDs(behaviorFile string) (subject, session string, err error) {
	parts := strings.Split(filepath.Base(behaviorFile), "_")
	if len(parts) < 3 {
		return "", "", fmt.Errorf("behavior file %q is not named raw_<subject>_<yymmdd>_<run>.mat", filepath.Base(behaviorFile))
	}
	return parts[1], parts[2], nil
}

func leverFileName(s Session) (string, error) {
	subject, session, err := leverIDs(s.BehaviorFile)
	if err != nil {
		return "", err
	}
	return nwb.FileName(subject, session), nil
}

// identifyLeverSession names the session after its behavior file. The start
// time comes from the recording folder table, then the configured start
// time, and for sessions without ephys from the date in the file name.
func identifyLeverSession(md *metadata.Metadata, s Session, loc *time.Location) error {
	if err := required("behavior file", s.BehaviorFile); err != nil {
		return err
	}
	subject, session, err := leverIDs(s.BehaviorFile)
	if err != nil {
		return err
	}
	md.Subject.SubjectID = subject
	md.NWBFile.SessionID = session

	folders := md.Ecephys.FolderNameToStartDatetime
	md.Ecephys.FolderNameToStartDatetime = nil
	if s.EphysFolder == "" {
		start, err := time.ParseInLocation("060102", session, loc)
		if err != nil {
			return fmt.Errorf("session date %q: %w", session, err)
		}
		md.NWBFile.SessionStartTime = start
		return nil
	}
	key := filepath.Base(filepath.Dir(s.EphysFolder)) + "/" + filepath.Base(s.EphysFolder)
	if iso, ok := folders[key]; ok {
		start, err := parseLocal(iso, loc)
		if err != nil {
			return fmt.Errorf("start time of %s: %w", key, err)
		}
		md.NWBFile.SessionStartTime = start
		return nil
	}
	if md.NWBFile.SessionStartTime.IsZero() {
		return fmt.Errorf("%w: no start time for recording folder %s", metadata.ErrInvalid, key)
	}
	md.NWBFile.SessionStartTime = inLocation(md.NWBFile.SessionStartTime, loc)
	return nil
}
