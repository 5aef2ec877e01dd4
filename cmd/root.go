package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/config"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/service"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Commands annotated with skipConfig load no configuration.
const skipConfig = "skip-config"

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "nwbconv",
	Short: "Convert lab recordings to NWB",
	Long: `nwbconv converts raw behavior, electrophysiology, video, audio and
imaging recordings of a lab session into a single NWB file.

Each dataset has its own layout and alignment rules. Convert one session
with 'nwbconv session', or every session of a raw data directory with
'nwbconv dataset'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		if _, ok := cmd.Annotations[skipConfig]; ok {
			return nil
		}

		// The default config file is optional
		if cfgFile == "" {
			if path := defaultConfigFile(); fileExists(path) {
				cfgFile = path
			}
		}

		dataset := ""
		if len(args) > 0 {
			dataset = args[0]
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, dataset)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/nwbconv.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verboseLevel, "verbose", "v", "verbose level: -v=debug, -vv=debug with source locations")

	// Add subcommands
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(datasetCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(metadataCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(infoCmd)
}

func defaultConfigFile() string {
	return os.ExpandEnv("$HOME/.config/nwbconv.yaml")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// newService builds the conversion service for the loaded config.
func newService() service.Service {
	return service.New(cfg, afero.NewOsFs(), slog.Default())
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: level >= 2,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
