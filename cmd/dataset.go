package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset <dataset>",
	Short: "Convert every session of a dataset",
	Long: `Convert every session found under the raw data directory of a dataset, or
listed in a sessions file, with several sessions in parallel.

A failing session does not stop the others. Its error is written next to the
outputs as ERROR_<file>.txt together with the session inputs.`,
	Example: `  nwbconv dataset zempolich_2024 --data-dir /raw/zempolich --output-dir /nwb --workers 4
  nwbconv dataset schneider_2024 --sessions-file sessions.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyOutputFlags(cmd); err != nil {
			return err
		}
		applySessionSourceFlags(cmd)
		if cmd.Flags().Changed("workers") {
			workers, _ := cmd.Flags().GetInt("workers")
			if workers < 1 {
				return fmt.Errorf("workers must be >= 1, got: %d", workers)
			}
			cfg.Workers = workers
		}

		results, err := newService().ConvertDataset(cmd.Context())
		if err != nil {
			return fmt.Errorf("conversion failed: %w", err)
		}

		failed := 0
		for i, r := range results {
			if r.Err != nil {
				failed++
				fmt.Printf("%3d. FAILED %s\n", i+1, filepath.Base(r.Path))
				continue
			}
			fmt.Printf("%3d. ok     %s\n", i+1, r.Path)
		}
		fmt.Printf("\n%d converted, %d failed\n", len(results)-failed, failed)
		if failed > 0 {
			return fmt.Errorf("%d of %d sessions failed, see the ERROR_ files in %s", failed, len(results), cfg.OutputDirectory)
		}
		return nil
	},
}

// addSessionSourceFlags registers the flags that select where sessions
// come from.
func addSessionSourceFlags(cmd *cobra.Command) {
	cmd.Flags().String("data-dir", "", "raw data directory of the dataset (overrides config)")
	cmd.Flags().String("sessions-file", "", "YAML list of sessions, used instead of the data directory")
}

func applySessionSourceFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDirectory, _ = cmd.Flags().GetString("data-dir")
		cfg.SessionsFile = ""
	}
	if cmd.Flags().Changed("sessions-file") {
		cfg.SessionsFile, _ = cmd.Flags().GetString("sessions-file")
	}
}

func init() {
	addOutputFlags(datasetCmd)
	addSessionSourceFlags(datasetCmd)
	datasetCmd.Flags().IntP("workers", "w", 1, "sessions converted in parallel (overrides config)")
}
