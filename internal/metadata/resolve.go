package metadata

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

//go:embed datasets/*.yaml
var datasetFiles embed.FS

// ErrInvalid marks metadata that failed validation.
var ErrInvalid = errors.New("invalid metadata")

// Base is the starting point every dataset shares.
func Base() *Metadata {
	return &Metadata{
		NWBFile: NWBFile{
			Institution: "New York University",
			Lab:         "Schneider",
		},
		Subject: Subject{
			Species: "Mus musculus",
			Sex:     "U",
		},
		Sorting: Sorting{UnitsDescription: "Units sorted with Kilosort and curated with Phy."},
		Audio: Audio{
			Name:        "AudioRecording",
			Description: "Audio recording from four AVISOFT microphones.",
			Unit:        "V",
			Rate:        192000,
			NumChannels: 4,
		},
	}
}

// Datasets lists the datasets with embedded metadata.
func Datasets() []string {
	entries, _ := datasetFiles.ReadDir("datasets")
	var names []string
	for _, e := range entries {
		name := e.Name()
		names = append(names, name[:len(name)-len("_metadata.yaml")])
	}
	sort.Strings(names)
	return names
}

// DatasetDefaults returns the embedded metadata of a dataset.
func DatasetDefaults(dataset string) (map[string]any, error) {
	b, err := datasetFiles.ReadFile("datasets/" + dataset + "_metadata.yaml")
	if err != nil {
		return nil, fmt.Errorf("no metadata for dataset %q: %w", dataset, err)
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse %s metadata: %w", dataset, err)
	}
	return out, nil
}

// LoadFile reads a user override file.
func LoadFile(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata file: %w", err)
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse metadata file %s: %w", path, err)
	}
	return out, nil
}

// DeepUpdate merges src into dst: nested maps merge recursively, any other
// value (lists included) replaces the one in dst. dst is modified and returned.
func DeepUpdate(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if cur, ok := dst[k].(map[string]any); ok {
			dst[k] = DeepUpdate(cur, sub)
			continue
		}
		dst[k] = DeepUpdate(map[string]any{}, sub)
	}
	return dst
}

// ToMap renders md as the nested map the override files are written in.
func ToMap(md *Metadata) (map[string]any, error) {
	b, err := yaml.Marshal(md)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func stringToTime(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	s := data.(string)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("cannot parse %q as a time", s)
}

// FromMap decodes a nested map into Metadata. Keys that match no field are
// an error.
func FromMap(m map[string]any) (*Metadata, error) {
	var md Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  stringToTime,
		ErrorUnused: true,
		Result:      &md,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &md, nil
}

// Resolve deep-updates md with each layer in order and decodes the result.
func Resolve(md *Metadata, layers ...map[string]any) (*Metadata, error) {
	m, err := ToMap(md)
	if err != nil {
		return nil, err
	}
	for _, layer := range layers {
		m = DeepUpdate(m, layer)
	}
	return FromMap(m)
}

// Clone returns a deep copy of md.
func (md *Metadata) Clone() (*Metadata, error) {
	return Resolve(md)
}

// YAML renders md for display.
func (md *Metadata) YAML() ([]byte, error) {
	return yaml.Marshal(md)
}
