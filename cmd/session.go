package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var sessionCmd = &cobra.Command{
	Use:   "session <dataset>",
	Short: "Convert one session to NWB",
	Long: `Convert the files of one recording session to a single NWB file.

Which inputs are required depends on the dataset: schneider_2024 and
zempolich_2024 need --behavior-file, la_chioma_2024 needs --ephys-folder and
corredera_2025 needs --stimulus-file.`,
	Example: `  nwbconv session zempolich_2024 --behavior-file raw_m53_231029_001.mat --ephys-folder A1_EphysFiles/m53/Day1_A1
  nwbconv session la_chioma_2024 --ephys-folder AL240404c_2024-04-22_17-45-19 --stub`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyOutputFlags(cmd); err != nil {
			return err
		}
		s, err := sessionFromFlags(cmd)
		if err != nil {
			return err
		}

		path, err := newService().ConvertSession(cmd.Context(), s)
		if err != nil {
			return fmt.Errorf("conversion failed: %w", err)
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var metadataCmd = &cobra.Command{
	Use:   "metadata <dataset>",
	Short: "Print the resolved metadata of one session",
	Long: `Open the inputs of one session and print the metadata its conversion would
write, after the dataset defaults and the metadata file are applied. Nothing is
written. Use the output as a starting point for a --metadata-file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyOutputFlags(cmd); err != nil {
			return err
		}
		s, err := sessionFromFlags(cmd)
		if err != nil {
			return err
		}

		out, err := newService().ResolveMetadata(s)
		if err != nil {
			return fmt.Errorf("failed to resolve metadata: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions <dataset>",
	Short: "List the sessions of a dataset",
	Long: `List the sessions found under the data directory of a dataset, or read from
its sessions file. The YAML output can be edited and passed back with
--sessions-file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		applySessionSourceFlags(cmd)

		sessions, err := newService().Sessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Printf("No sessions found for %s\n", cfg.Dataset)
			return nil
		}
		out, err := yaml.Marshal(sessions)
		if err != nil {
			return fmt.Errorf("error marshaling sessions: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	addSessionFlags(sessionCmd)
	addOutputFlags(sessionCmd)

	addSessionFlags(metadataCmd)
	addOutputFlags(metadataCmd)

	addSessionSourceFlags(sessionsCmd)
}
