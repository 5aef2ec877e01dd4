package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Discover lists the sessions of dataset under dataDir.
func Discover(fsys afero.Fs, dataset, dataDir string) ([]Session, error) {
	p, err := Lookup(dataset)
	if err != nil {
		return nil, err
	}
	if p.Discover == nil {
		return nil, fmt.Errorf("dataset %s has no batch layout, pass a sessions file", dataset)
	}
	sessions, err := p.Discover(fsys, dataDir)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Dataset = dataset
	}
	return sessions, nil
}

// visible drops hidden entries and macOS resource forks.
func visible(name string) bool {
	return !strings.HasPrefix(name, ".")
}

// listDir returns the sorted visible entries of dir that are directories
// when dirs is set and files otherwise. A missing dir is empty.
func listDir(fsys afero.Fs, dir string, dirs bool) ([]string, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if visible(e.Name()) && e.IsDir() == dirs {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// discoverZempolich pairs, per region and subject, the sorted recording
// folders of <R>_EphysFiles/<subject> with the sorted behavior files
// <R>_EphysBehavioralFiles/raw_<subject>_*.mat, and adds every file of
// <R>_OptoBehavioralFiles as an opto session.
func discoverZempolich(fsys afero.Fs, dataDir string) ([]Session, error) {
	var sessions []Session
	for _, region := range Regions {
		subjects, err := listDir(fsys, filepath.Join(dataDir, region+"_EphysFiles"), true)
		if err != nil {
			return nil, err
		}
		for _, subjectDir := range subjects {
			subject := filepath.Base(subjectDir)
			folders, err := listDir(fsys, subjectDir, true)
			if err != nil {
				return nil, err
			}
			behaviors, err := afero.Glob(fsys, filepath.Join(dataDir, region+"_EphysBehavioralFiles", "raw_"+subject+"_*.mat"))
			if err != nil {
				return nil, err
			}
			sort.Strings(behaviors)
			// Unpaired trailing entries are left out.
			for i := 0; i < min(len(folders), len(behaviors)); i++ {
				sessions = append(sessions, Session{
					EphysFolder:  folders[i],
					BehaviorFile: behaviors[i],
					BrainRegion:  region,
				})
			}
		}

		opto, err := listDir(fsys, filepath.Join(dataDir, region+"_OptoBehavioralFiles"), false)
		if err != nil {
			return nil, err
		}
		for _, f := range opto {
			sessions = append(sessions, Session{BehaviorFile: f, BrainRegion: region, HasOpto: true})
		}
	}
	return sessions, nil
}

// LoadSessions reads a YAML list of sessions. Entries without a dataset
// take dataset.
func LoadSessions(path, dataset string) ([]Session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sessions []Session
	if err := yaml.Unmarshal(b, &sessions); err != nil {
		return nil, fmt.Errorf("failed to parse sessions file %s: %w", path, err)
	}
	for i := range sessions {
		if sessions[i].Dataset == "" {
			sessions[i].Dataset = dataset
		}
	}
	return sessions, nil
}
