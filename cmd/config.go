package cmd

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/config"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage nwbconv configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show [dataset]",
	Short: "Show current configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:         "use <dataset>",
	Short:       "Set the active dataset in the config file",
	Long:        fmt.Sprintf("Set active_dataset in the config file. Available datasets: %s.", strings.Join(metadata.Datasets(), ", ")),
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			cfgFile = defaultConfigFile()
		}
		if err := config.UpdateActiveDataset(cfgFile, args[0]); err != nil {
			return err
		}
		fmt.Printf("Active dataset set to %s in %s\n", args[0], cfgFile)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configUseCmd)
}
