package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeResult holds the stream metadata the composer cares about.
type ProbeResult struct {
	DurationSec float64
	CodecName   string
	Width       int
	Height      int
	FrameRate   float64
	TimeBase    string
	HasAudio    bool
}

// Prober reads media metadata through ffprobe.
type Prober struct {
	binary string
}

// NewProber creates a Prober. An empty binary falls back to "ffprobe"
// on PATH.
func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary}
}

type probeDoc struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	TimeBase     string `json:"time_base"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

// Probe returns the container duration plus the first video stream's
// codec, dimensions, frame rate and time base. Frame-rate fields go
// through ParseFrameRate and nothing else.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbeOutput(out, path)
}

func parseProbeOutput(out []byte, path string) (*ProbeResult, error) {
	var doc probeDoc
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("ffprobe %s: decode output: %w", path, err)
	}

	res := &ProbeResult{}
	if doc.Format.Duration != "" {
		if d, err := strconv.ParseFloat(strings.TrimSpace(doc.Format.Duration), 64); err == nil {
			res.DurationSec = d
		}
	}
	videoSeen := false
	for _, st := range doc.Streams {
		switch st.CodecType {
		case "video":
			if videoSeen {
				continue
			}
			videoSeen = true
			res.CodecName = st.CodecName
			res.Width = st.Width
			res.Height = st.Height
			res.FrameRate = selectFrameRate(st.AvgFrameRate, st.RFrameRate)
			res.TimeBase = st.TimeBase
		case "audio":
			res.HasAudio = true
		}
	}
	return res, nil
}

// Duration returns the container duration in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration %s: %w", path, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration %s: parse %q: %w", path, strings.TrimSpace(string(out)), err)
	}
	return d, nil
}
