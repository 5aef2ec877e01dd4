package video

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Probe is what the converter needs to know about a video file.
type Probe struct {
	Frames    int
	FrameRate float64
	Duration  float64
}

// Prober inspects a video file.
type Prober interface {
	Probe(path string) (*Probe, error)
}

// FFProbe runs the ffprobe binary.
type FFProbe struct {
	// Binary defaults to "ffprobe" on PATH.
	Binary string
}

// Probe extracts the first video stream's frame count, rate and duration.
func (p FFProbe) Probe(path string) (*Probe, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("video file not found: %s", path)
	}
	bin := p.Binary
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.Command(bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}
	probe, err := parseProbe(output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", path, err)
	}
	slog.Debug("Video probe completed", "file", path, "frames", probe.Frames, "rate", probe.FrameRate)
	return probe, nil
}

func parseProbe(output []byte) (*Probe, error) {
	var probeResult struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			NbFrames   string `json:"nb_frames"`
			RFrameRate string `json:"r_frame_rate"`
			Duration   string `json:"duration"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &probeResult); err != nil {
		return nil, err
	}
	for _, stream := range probeResult.Streams {
		if stream.CodecType != "video" {
			continue
		}
		rate, err := ParseFrameRate(stream.RFrameRate)
		if err != nil {
			return nil, err
		}
		probe := &Probe{FrameRate: rate}
		if stream.Duration != "" {
			if probe.Duration, err = strconv.ParseFloat(stream.Duration, 64); err != nil {
				return nil, fmt.Errorf("duration %q: %w", stream.Duration, err)
			}
		}
		if stream.NbFrames != "" {
			if probe.Frames, err = strconv.Atoi(stream.NbFrames); err != nil {
				return nil, fmt.Errorf("nb_frames %q: %w", stream.NbFrames, err)
			}
		} else {
			// Containers without a frame count in the header.
			probe.Frames = int(probe.Duration*rate + 0.5)
		}
		return probe, nil
	}
	return nil, fmt.Errorf("no video stream")
}

// ParseFrameRate reads ffprobe's rational rates ("30000/1001") and plain
// numbers.
func ParseFrameRate(s string) (float64, error) {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("frame rate %q: %w", s, err)
	}
	if !ok {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("frame rate %q has an invalid denominator", s)
	}
	return n / d, nil
}
