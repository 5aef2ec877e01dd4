package cmd

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/config"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/dataset"
)

// addOutputFlags registers the flags that override the output settings of
// the config file.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output-dir", "o", "", "output directory (overrides config)")
	cmd.Flags().String("backend", "", "output backend: zarr or hdf5 (overrides config)")
	cmd.Flags().String("chunk-size", "", "target chunk size such as 16MB (overrides config)")
	cmd.Flags().String("metadata-file", "", "YAML metadata applied over the dataset defaults (overrides config)")
	cmd.Flags().String("timezone", "", "timezone of the raw timestamps (overrides config)")
	cmd.Flags().Bool("stub", false, "write a small test file to <output-dir>/"+dataset.StubDir)
}

// applyOutputFlags lays the flags set on the command line over cfg.
func applyOutputFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		cfg.OutputDirectory, _ = flags.GetString("output-dir")
	}
	if flags.Changed("backend") {
		backend, _ := flags.GetString("backend")
		if !contains(config.Backends, backend) {
			return fmt.Errorf("unknown backend %q, use one of %v", backend, config.Backends)
		}
		cfg.Backend = backend
	}
	if flags.Changed("chunk-size") {
		s, _ := flags.GetString("chunk-size")
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(s)); err != nil || size == 0 {
			return fmt.Errorf("invalid chunk size %q", s)
		}
		cfg.ChunkSize = size
	}
	if flags.Changed("metadata-file") {
		cfg.MetadataFile, _ = flags.GetString("metadata-file")
	}
	if flags.Changed("timezone") {
		cfg.Timezone, _ = flags.GetString("timezone")
		if _, err := cfg.Location(); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}
	if flags.Changed("stub") {
		cfg.Stub, _ = flags.GetBool("stub")
	}
	return nil
}

// addSessionFlags registers one flag per session input.
func addSessionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("behavior-file", "", "behavior .mat file")
	f.String("ephys-folder", "", "Open Ephys recording folder")
	f.String("ephys-file", "", "White Matter .bin recording")
	f.Int("num-channels", 0, "channel count of the White Matter recording")
	f.String("sorting-folder", "", "Phy sorting folder (defaults to the ephys folder)")
	f.String("stimulus-file", "", "stimulus .mat file")
	f.String("audio-file", "", "raw .mic audio recording")
	f.StringSlice("video-file", nil, "video file, repeat for several cameras")
	f.String("video-folder", "", "folder whose videos are all added, in name order")
	f.String("video-ext", ".avi", "extension of the videos in --video-folder")
	f.String("pose-file", "", "SLEAP pose estimation file")
	f.String("isoi-folder", "", "intrinsic signal optical imaging folder")
	f.String("brain-region", "", "recorded or stimulated brain region")
	f.Bool("opto", false, "the session has optogenetic stimulation")
	f.String("subject-id", "", "subject id (overrides the derived one)")
	f.String("session-id", "", "session id (overrides the derived one)")
}

// sessionFromFlags reads the session flags of cmd.
func sessionFromFlags(cmd *cobra.Command) (dataset.Session, error) {
	f := cmd.Flags()
	s := dataset.Session{Dataset: cfg.Dataset}
	s.BehaviorFile, _ = f.GetString("behavior-file")
	s.EphysFolder, _ = f.GetString("ephys-folder")
	s.EphysFile, _ = f.GetString("ephys-file")
	s.NumChannels, _ = f.GetInt("num-channels")
	s.SortingFolder, _ = f.GetString("sorting-folder")
	s.StimulusFile, _ = f.GetString("stimulus-file")
	s.AudioFile, _ = f.GetString("audio-file")
	s.VideoFiles, _ = f.GetStringSlice("video-file")
	s.PoseFile, _ = f.GetString("pose-file")
	s.ISOIFolder, _ = f.GetString("isoi-folder")
	s.BrainRegion, _ = f.GetString("brain-region")
	s.HasOpto, _ = f.GetBool("opto")
	s.SubjectID, _ = f.GetString("subject-id")
	s.SessionID, _ = f.GetString("session-id")

	if dir, _ := f.GetString("video-folder"); dir != "" {
		ext, _ := f.GetString("video-ext")
		videos, err := dataset.VideosIn(dir, ext)
		if err != nil {
			return s, fmt.Errorf("failed to list videos: %w", err)
		}
		if len(videos) == 0 {
			return s, fmt.Errorf("no %s videos in %s", ext, dir)
		}
		s.VideoFiles = append(s.VideoFiles, videos...)
	}
	return s, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
