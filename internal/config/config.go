package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/viper"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
)

// EnvPrefix prefixes environment overrides, as in NWBCONV_GLOBALS_WORKERS.
const EnvPrefix = "NWBCONV"

// Backends are the accepted output backends.
var Backends = []string{"zarr", "hdf5"}

type GlobalsConfig struct {
	OutputDirectory string `mapstructure:"output_directory" yaml:"output_directory"`
	Backend         string `mapstructure:"backend" yaml:"backend"`
	ChunkSize       string `mapstructure:"chunk_size" yaml:"chunk_size"`
	Timezone        string `mapstructure:"timezone" yaml:"timezone"`
	Workers         int    `mapstructure:"workers" yaml:"workers"`
}

// DatasetProfile holds the settings of one dataset. Empty fields fall back
// to the globals.
type DatasetProfile struct {
	DataDirectory   string `mapstructure:"data_directory" yaml:"data_directory"`
	OutputDirectory string `mapstructure:"output_directory" yaml:"output_directory"`
	MetadataFile    string `mapstructure:"metadata_file" yaml:"metadata_file"`
	SessionsFile    string `mapstructure:"sessions_file" yaml:"sessions_file"`
	Backend         string `mapstructure:"backend" yaml:"backend"`
	ChunkSize       string `mapstructure:"chunk_size" yaml:"chunk_size"`
	Timezone        string `mapstructure:"timezone" yaml:"timezone"`
	Workers         int    `mapstructure:"workers" yaml:"workers"`
	Stub            bool   `mapstructure:"stub" yaml:"stub"`
}

type RootConfig struct {
	ActiveDataset string                     `mapstructure:"active_dataset" yaml:"active_dataset"`
	Globals       *GlobalsConfig             `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Datasets      map[string]*DatasetProfile `mapstructure:"datasets" yaml:"datasets"`
}

// Config is the resolved settings of one dataset.
type Config struct {
	Dataset         string            `yaml:"dataset"`
	DataDirectory   string            `yaml:"data_directory"`
	OutputDirectory string            `yaml:"output_directory"`
	MetadataFile    string            `yaml:"metadata_file,omitempty"`
	SessionsFile    string            `yaml:"sessions_file,omitempty"`
	Backend         string            `yaml:"backend"`
	ChunkSize       datasize.ByteSize `yaml:"chunk_size"`
	Timezone        string            `yaml:"timezone"`
	Workers         int               `yaml:"workers"`
	Stub            bool              `yaml:"stub"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `yaml:"-"`
}

// InheritanceInfo records where each resolved value came from: "default",
// "inherited" from globals, or "profile-specific".
type InheritanceInfo struct {
	OutputDirectory string
	Backend         string
	ChunkSize       string
	Timezone        string
	Workers         string
}

var defaultConfig = Config{
	OutputDirectory: filepath.Join(os.Getenv("HOME"), "nwbfiles"),
	Backend:         "zarr",
	ChunkSize:       16 * datasize.MB,
	Timezone:        "US/Eastern",
	Workers:         1,
}

// Default returns the built-in settings for dataset.
func Default(dataset string) *Config {
	c := defaultConfig
	c.Dataset = dataset
	c.Inheritance = &InheritanceInfo{
		OutputDirectory: "default",
		Backend:         "default",
		ChunkSize:       "default",
		Timezone:        "default",
		Workers:         "default",
	}
	return &c
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// LoadWithProfile resolves the settings of dataset, or of the active
// dataset when empty, from configFile. Without a config file the built-in
// defaults apply.
func LoadWithProfile(configFile, dataset string) (*Config, error) {
	if configFile == "" {
		if dataset == "" {
			return nil, fmt.Errorf("no dataset selected and no config file, use --config or name a dataset")
		}
		if err := validateDatasetName(dataset); err != nil {
			return nil, err
		}
		return Default(dataset), nil
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	name := dataset
	if name == "" {
		name = rootConfig.ActiveDataset
	}
	if name == "" {
		return nil, fmt.Errorf("no dataset selected, name one or set active_dataset")
	}
	if err := validateDatasetName(name); err != nil {
		return nil, err
	}

	base := applyGlobals(Default(name), rootConfig.Globals)
	selected := mergeConfigs(base, rootConfig.Datasets[name])

	selected.DataDirectory = expandPath(selected.DataDirectory)
	selected.OutputDirectory = expandPath(selected.OutputDirectory)
	selected.MetadataFile = expandPath(selected.MetadataFile)
	selected.SessionsFile = expandPath(selected.SessionsFile)
	return selected, nil
}

// applyGlobals overrides the defaults with the globals section. Values are
// validated already.
func applyGlobals(c *Config, g *GlobalsConfig) *Config {
	if g == nil {
		return c
	}
	if g.OutputDirectory != "" {
		c.OutputDirectory = g.OutputDirectory
		c.Inheritance.OutputDirectory = "inherited"
	}
	if g.Backend != "" {
		c.Backend = g.Backend
		c.Inheritance.Backend = "inherited"
	}
	if g.ChunkSize != "" {
		c.ChunkSize, _ = parseChunkSize(g.ChunkSize)
		c.Inheritance.ChunkSize = "inherited"
	}
	if g.Timezone != "" {
		c.Timezone = g.Timezone
		c.Inheritance.Timezone = "inherited"
	}
	if g.Workers != 0 {
		c.Workers = g.Workers
		c.Inheritance.Workers = "inherited"
	}
	return c
}

// mergeConfigs lays a dataset profile over the resolved globals. Profile
// values win; empty ones keep the base value and its origin.
func mergeConfigs(base *Config, profile *DatasetProfile) *Config {
	result := *base
	inheritance := *base.Inheritance
	result.Inheritance = &inheritance
	if profile == nil {
		return &result
	}

	result.DataDirectory = profile.DataDirectory
	result.MetadataFile = profile.MetadataFile
	result.SessionsFile = profile.SessionsFile
	result.Stub = profile.Stub

	if profile.OutputDirectory != "" {
		result.OutputDirectory = profile.OutputDirectory
		result.Inheritance.OutputDirectory = "profile-specific"
	}
	if profile.Backend != "" {
		result.Backend = profile.Backend
		result.Inheritance.Backend = "profile-specific"
	}
	if profile.ChunkSize != "" {
		result.ChunkSize, _ = parseChunkSize(profile.ChunkSize)
		result.Inheritance.ChunkSize = "profile-specific"
	}
	if profile.Timezone != "" {
		result.Timezone = profile.Timezone
		result.Inheritance.Timezone = "profile-specific"
	}
	if profile.Workers != 0 {
		result.Workers = profile.Workers
		result.Inheritance.Workers = "profile-specific"
	}
	return &result
}

// UpdateActiveDataset updates the active_dataset field in the config file
func UpdateActiveDataset(configFile, dataset string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}
	if err := validateDatasetName(dataset); err != nil {
		return err
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	v.Set("active_dataset", dataset)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ValidateConfigurationFormat reads configFile with NWBCONV_ environment
// overrides and checks every section.
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if rootConfig.ActiveDataset != "" {
		if err := validateDatasetName(rootConfig.ActiveDataset); err != nil {
			return nil, fmt.Errorf("active_dataset: %w", err)
		}
	}
	if g := rootConfig.Globals; g != nil {
		if err := validateSettings("globals", g.Backend, g.ChunkSize, g.Timezone, g.Workers); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(rootConfig.Datasets))
	for name := range rootConfig.Datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prefix := "datasets." + name
		if err := validateDatasetName(name); err != nil {
			return nil, fmt.Errorf("%s: %w", prefix, err)
		}
		p := rootConfig.Datasets[name]
		if p == nil {
			continue
		}
		if err := validateSettings(prefix, p.Backend, p.ChunkSize, p.Timezone, p.Workers); err != nil {
			return nil, err
		}
	}
	return &rootConfig, nil
}

func validateDatasetName(name string) error {
	for _, d := range metadata.Datasets() {
		if d == name {
			return nil
		}
	}
	return fmt.Errorf("unknown dataset '%s' (available: %s)", name, strings.Join(metadata.Datasets(), ", "))
}

// validateSettings checks the fields shared by globals and profiles. Empty
// values are unset.
func validateSettings(prefix, backend, chunkSize, timezone string, workers int) error {
	if backend != "" && !contains(Backends, backend) {
		return fmt.Errorf("%s: 'backend' must be one of %s, got: %s", prefix, strings.Join(Backends, ", "), backend)
	}
	if chunkSize != "" {
		if _, err := parseChunkSize(chunkSize); err != nil {
			return fmt.Errorf("%s: 'chunk_size' %w", prefix, err)
		}
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return fmt.Errorf("%s: 'timezone' must be an IANA zone name, got: %s", prefix, timezone)
		}
	}
	if workers < 0 {
		return fmt.Errorf("%s: 'workers' must be >= 1, got: %d", prefix, workers)
	}
	return nil
}

func parseChunkSize(s string) (datasize.ByteSize, error) {
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("must be a size like 16MB, got: %s", s)
	}
	if size == 0 {
		return 0, fmt.Errorf("must be > 0, got: %s", s)
	}
	return size, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
