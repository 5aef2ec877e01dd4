package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/ecephys"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/video"
)

type clocked interface {
	SetTimeOffset(offset float64)
	MarkAligned()
}

// markAligned declares the named streams already on the session clock.
// Names that are not registered are skipped.
func markAligned(c *convert.Converter, names ...string) {
	for _, name := range names {
		if iface, ok := c.Interface(name); ok {
			if cl, ok := iface.(clocked); ok {
				cl.MarkAligned()
			}
		}
	}
}

// shift subtracts offset from the native times of the named streams.
func shift(c *convert.Converter, offset float64, names ...string) {
	for _, name := range names {
		if iface, ok := c.Interface(name); ok {
			if cl, ok := iface.(clocked); ok {
				cl.SetTimeOffset(offset)
			}
		}
	}
}

// startCameras puts every camera whose name starts with prefix on a fixed
// rate clock from zero.
func startCameras(c *convert.Converter, prefix string) {
	for _, name := range c.Names() {
		if strings.HasPrefix(name, prefix) {
			shift(c, 0, name)
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// openEphysRecording opens stream under folder and attaches the Phy
// channel positions stored next to it, when they match the channel count.
func openEphysRecording(folder, stream string, opts ecephys.Options) (*ecephys.Recording, error) {
	src, err := ecephys.OpenOpenEphys(folder, stream)
	if err != nil {
		return nil, err
	}
	positions := filepath.Join(folder, "channel_positions.npy")
	if opts.Positions == nil && exists(positions) {
		pos, err := ecephys.LoadPositions(positions)
		switch {
		case err != nil:
			src.Close()
			return nil, err
		case len(pos) != len(src.Channels()):
			opts.Logger.Warn("Ignoring channel positions", "positions", len(pos), "channels", len(src.Channels()))
		default:
			opts.Positions = pos
		}
	}
	rec, err := ecephys.NewRecording(src, opts)
	if err != nil {
		src.Close()
		return nil, err
	}
	return rec, nil
}

// registerSorting adds the Phy output in dir when it holds spike times.
func registerSorting(c *convert.Converter, dir string, logger *slog.Logger) error {
	if dir == "" || !exists(filepath.Join(dir, "spike_times.npy")) {
		return nil
	}
	sorting, err := ecephys.NewSorting(dir, logger)
	if err != nil {
		return err
	}
	return c.Register("Sorting", sorting)
}

// registerCameras adds one video interface per file, named by camera(i).
func registerCameras(c *convert.Converter, paths []string, camera func(i int) string, logger *slog.Logger) error {
	for i, p := range paths {
		v, err := video.New([]string{p}, camera(i), video.FFProbe{}, logger)
		if err != nil {
			return err
		}
		if err := c.Register(camera(i), v); err != nil {
			return err
		}
	}
	return nil
}

// VideosIn lists the video files of dir with extension ext, skipping macOS
// resource forks.
func VideosIn(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), "._") || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func required(name, path string) error {
	if path == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}
