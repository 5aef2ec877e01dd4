package cmd

import (
	"fmt"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/dataset"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [dataset]",
	Short: "Show resolved configuration and outputs of a dataset",
	Long:  `Display the resolved configuration of a dataset with inheritance indicators, and the NWB files and error reports already in its output directory. Shows which values come from the defaults, the globals or the dataset profile.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := dataset.Lookup(cfg.Dataset)
		if err != nil {
			return err
		}

		fmt.Printf("=== DATASET ===\n")
		fmt.Printf("name: %s\n", policy.Name)
		fmt.Printf("description: %s\n", policy.Description)
		fmt.Printf("batch_layout: %t\n", policy.Discover != nil)
		if cfgFile != "" {
			fmt.Printf("config_file: %s\n", cfgFile)
		}

		// Display resolved configuration with inheritance indicators
		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")

		fmt.Printf("\n[Input]\n")
		fmt.Printf("data_directory: %s\n", valueOrNone(cfg.DataDirectory))
		fmt.Printf("sessions_file: %s\n", valueOrNone(cfg.SessionsFile))
		fmt.Printf("metadata_file: %s\n", valueOrNone(cfg.MetadataFile))
		fmt.Printf("timezone: %s %s\n", cfg.Timezone, getInheritanceIndicator(cfg.Inheritance.Timezone))

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.OutputDirectory, getInheritanceIndicator(cfg.Inheritance.OutputDirectory))
		fmt.Printf("backend: %s %s\n", cfg.Backend, getInheritanceIndicator(cfg.Inheritance.Backend))
		fmt.Printf("chunk_size: %s %s\n", cfg.ChunkSize.HumanReadable(), getInheritanceIndicator(cfg.Inheritance.ChunkSize))
		fmt.Printf("stub: %t\n", cfg.Stub)

		fmt.Printf("\n[Batch]\n")
		fmt.Printf("workers: %d %s\n", cfg.Workers, getInheritanceIndicator(cfg.Inheritance.Workers))

		outputs, err := newService().ListOutputs()
		if err != nil {
			return err
		}
		fmt.Printf("\n=== OUTPUTS ===\n")
		if len(outputs) == 0 {
			fmt.Printf("none\n")
		}
		for _, o := range outputs {
			status := "ok"
			if o.Failed {
				status = "FAILED"
			} else if o.Stub {
				status = "stub"
			}
			fmt.Printf("%-6s %s (%s, %s)\n", status, o.Name, o.SizeHuman, o.ModTimeHuman)
		}
		return nil
	},
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "default":
		return "[default]"
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}
