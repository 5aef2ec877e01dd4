package ecephys

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/align"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

// Sorting converts a Phy output folder into the units table.
type Sorting struct {
	convert.Clock

	dir    string
	rate   float64
	logger *slog.Logger
}

// NewSorting checks the Phy files in dir and reads the sampling rate from
// params.py.
func NewSorting(dir string, logger *slog.Logger) (*Sorting, error) {
	for _, name := range []string{"spike_times.npy", "spike_clusters.npy", "params.py"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("phy folder: %w", err)
		}
	}
	params, err := readParams(filepath.Join(dir, "params.py"))
	if err != nil {
		return nil, err
	}
	rate, err := strconv.ParseFloat(params["sample_rate"], 64)
	if err != nil || rate <= 0 {
		return nil, fmt.Errorf("params.py: invalid sample_rate %q", params["sample_rate"])
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sorting{dir: dir, rate: rate, logger: logger.With("interface", "sorting")}, nil
}

// readParams parses the "key = value" lines of a Phy params.py.
func readParams(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `'"`)
	}
	return out, sc.Err()
}

// readClusterGroups reads the curated labels from cluster_group.tsv, or the
// Kilosort labels when the folder was never curated. It returns nil when
// neither file exists.
func readClusterGroups(dir string) (map[int]string, error) {
	for _, name := range []string{"cluster_group.tsv", "cluster_KSLabel.tsv"} {
		f, err := os.Open(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r := csv.NewReader(f)
		r.Comma = '\t'
		if _, err := r.Read(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		groups := make(map[int]string)
		for {
			rec, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			id, err := strconv.Atoi(rec[0])
			if err != nil {
				return nil, fmt.Errorf("%s: cluster id %q: %w", name, rec[0], err)
			}
			groups[id] = rec[1]
		}
		return groups, nil
	}
	return nil, nil
}

func (s *Sorting) DescribeDefaults(md *metadata.Metadata) error {
	if md.Sorting.UnitsDescription == "" {
		md.Sorting.UnitsDescription = "Autogenerated by neuroconv."
	}
	return nil
}

// Units groups spike times in seconds by cluster id, on the session clock.
func (s *Sorting) Units() (ids []int, spikes map[int][]float64, err error) {
	samples, err := readNumbers(filepath.Join(s.dir, "spike_times.npy"))
	if err != nil {
		return nil, nil, err
	}
	clusters, err := readNumbers(filepath.Join(s.dir, "spike_clusters.npy"))
	if err != nil {
		return nil, nil, err
	}
	if len(samples) != len(clusters) {
		return nil, nil, fmt.Errorf("%d spike times for %d cluster labels", len(samples), len(clusters))
	}
	spikes = make(map[int][]float64)
	for i, sample := range samples {
		id := int(clusters[i])
		if _, ok := spikes[id]; !ok {
			ids = append(ids, id)
		}
		spikes[id] = append(spikes[id], sample/s.rate)
	}
	sort.Ints(ids)
	for _, id := range ids {
		spikes[id] = align.Offset(spikes[id], s.TimeOffset())
	}
	return ids, spikes, nil
}

func (s *Sorting) Append(f *nwb.File, md *metadata.Metadata) error {
	ids, spikes, err := s.Units()
	if err != nil {
		return err
	}
	groups, err := readClusterGroups(s.dir)
	if err != nil {
		return err
	}
	t := f.Units(md.Sorting.UnitsDescription)
	cols := []nwb.Column{{Name: "unit_name", Description: "Unique reference for each unit.", DType: nwb.String}}
	if groups != nil {
		cols = append(cols, nwb.Column{Name: "quality", Description: "Quality of the unit as defined by phy (good, mua, noise).", DType: nwb.String})
	}
	for _, c := range cols {
		if err := t.AddColumn(c); err != nil {
			return err
		}
	}
	for _, id := range ids {
		row := map[string]any{"spike_times": spikes[id], "unit_name": strconv.Itoa(id)}
		if groups != nil {
			q, ok := groups[id]
			if !ok {
				s.logger.Warn("Cluster has no group label", "cluster", id)
				q = "unsorted"
			}
			row["quality"] = q
		}
		if err := t.AddRow(row); err != nil {
			return err
		}
	}
	s.logger.Debug("Added units", "count", len(ids))
	return nil
}
