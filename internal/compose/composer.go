package compose

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/scriptreel/api/internal/config"
	"github.com/scriptreel/api/internal/media"
	"github.com/scriptreel/api/internal/model"
)

// CompositionErrorKind classifies assembly failures
type CompositionErrorKind string

const (
	KindMissingAsset   CompositionErrorKind = "missing_asset"
	KindMalformedAsset CompositionErrorKind = "malformed_asset"
	KindEncodeFailed   CompositionErrorKind = "encode_failed"
)

// CompositionError reports a missing or malformed asset during composite
// build or final assembly. Always fatal to the job.
type CompositionError struct {
	Kind       CompositionErrorKind
	SceneIndex int // -1 when not scene-specific
	Detail     string
	Err        error
}

func (e *CompositionError) Error() string {
	msg := fmt.Sprintf("compose: %s", e.Kind)
	if e.SceneIndex >= 0 {
		msg = fmt.Sprintf("%s (scene %d)", msg, e.SceneIndex)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CompositionError) Unwrap() error { return e.Err }

// Resolution maps an output quality to frame dimensions.
func Resolution(q model.Quality) (int, int) {
	switch q {
	case model.QualityHigh:
		return 1920, 1080
	case model.QualityDraft:
		return 640, 480
	default:
		return 1280, 720
	}
}

// Composer renders per-scene composite clips and assembles them into the
// final video. Encoding parameters are fixed configuration so identical
// inputs produce identical outputs.
type Composer struct {
	ffmpeg          string
	prober          *media.Prober
	encode          config.EncodeConfig
	workDir         string
	defaultSceneSec int
}

// CompositeRequest carries everything needed to render one scene's clip.
type CompositeRequest struct {
	JobID      string
	Scene      model.Scene
	Assets     model.SceneAssets
	PlannedSec int
	Width      int
	Height     int
}

// NewComposer creates a Composer.
func NewComposer(encode config.EncodeConfig, pipeline config.PipelineConfig) *Composer {
	ffmpeg := encode.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Composer{
		ffmpeg:          ffmpeg,
		prober:          media.NewProber(encode.FFprobePath),
		encode:          encode,
		workDir:         pipeline.WorkDir,
		defaultSceneSec: pipeline.DefaultSceneSec,
	}
}

// Prober exposes the probe used for composer decisions.
func (c *Composer) Prober() *media.Prober { return c.prober }

// BuildComposite renders one scene's composite clip: visual plus
// narration plus on-screen text. The clip runs max(visual, audio); a
// short visual is freeze-padded, a short audio track is silence-padded.
func (c *Composer) BuildComposite(ctx context.Context, req *CompositeRequest) (string, error) {
	if req.Assets.VisualAssetPath == "" {
		return "", &CompositionError{Kind: KindMissingAsset, SceneIndex: req.Scene.Index, Detail: "visual asset not set"}
	}

	still := isStillImage(req.Assets.VisualAssetPath)
	visualSec := float64(req.PlannedSec)
	if !still {
		probe, err := c.prober.Probe(ctx, req.Assets.VisualAssetPath)
		if err != nil {
			return "", &CompositionError{Kind: KindMalformedAsset, SceneIndex: req.Scene.Index, Err: err}
		}
		if probe.DurationSec > 0 {
			visualSec = probe.DurationSec
		}
	}

	audioSec := 0.0
	if req.Assets.AudioAssetPath != "" {
		d, err := c.prober.Duration(ctx, req.Assets.AudioAssetPath)
		if err != nil {
			return "", &CompositionError{Kind: KindMalformedAsset, SceneIndex: req.Scene.Index, Err: err}
		}
		audioSec = d
	}

	targetSec := math.Max(visualSec, audioSec)
	if targetSec <= 0 {
		targetSec = float64(c.defaultSceneSec)
	}

	outPath := CompositePath(c.workDir, req.JobID, req.Scene.Index)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", &CompositionError{Kind: KindEncodeFailed, SceneIndex: req.Scene.Index, Err: err}
	}

	args := []string{"-y"}
	if still {
		args = append(args, "-loop", "1", "-framerate", "30")
	}
	args = append(args, "-i", req.Assets.VisualAssetPath)
	if req.Assets.AudioAssetPath != "" {
		args = append(args, "-i", req.Assets.AudioAssetPath)
	} else {
		args = append(args, "-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100")
	}

	filter := c.compositeFilter(req, still, visualSec, targetSec)
	args = append(args,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "[a]",
		"-t", fmtSeconds(targetSec),
		"-ar", "44100",
		"-ac", "2",
	)
	args = append(args, c.encodeArgs()...)
	args = append(args, outPath)

	if err := c.run(ctx, args...); err != nil {
		return "", &CompositionError{Kind: KindEncodeFailed, SceneIndex: req.Scene.Index, Err: err}
	}
	return outPath, nil
}

// compositeFilter builds the filter graph: scale and letterbox to the
// target frame, normalize the frame rate for later stream-copy concat,
// freeze-pad short visuals, stack on-screen text bottom-up.
func (c *Composer) compositeFilter(req *CompositeRequest, still bool, visualSec, targetSec float64) string {
	w, h := req.Width, req.Height
	chain := []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", w, h),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", w, h),
		"setsar=1",
		"fps=30",
	}
	if pad := targetSec - visualSec; !still && pad > 0.05 {
		chain = append(chain, fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%s", fmtSeconds(pad)))
	}

	fontsize := h / 18
	lineHeight := fontsize * 8 / 5
	yBase := h - h/20
	n := len(req.Scene.OnScreenText)
	for i, overlay := range req.Scene.OnScreenText {
		y := yBase - (n-i)*lineHeight
		chain = append(chain, fmt.Sprintf(
			"drawtext=text='%s':fontcolor=white:fontsize=%d:box=1:boxcolor=black@0.5:boxborderw=8:x=(w-text_w)/2:y=%d",
			escapeFFmpegText(overlay), fontsize, y,
		))
	}

	video := "[0:v]" + strings.Join(chain, ",") + "[v]"
	audio := "[1:a]apad[a]"
	return video + ";" + audio
}

// encodeArgs returns the fixed output encoding flags.
func (c *Composer) encodeArgs() []string {
	args := []string{
		"-c:v", c.encode.VideoCodec,
		"-preset", c.encode.Preset,
		"-crf", strconv.Itoa(c.encode.CRF),
		"-pix_fmt", c.encode.PixelFormat,
		"-c:a", c.encode.AudioCodec,
		"-b:a", c.encode.AudioBitrate,
	}
	if c.encode.FastStart {
		args = append(args, "-movflags", "+faststart")
	}
	return args
}

// BuildConcatDescriptor renders the concat list: one line per scene in
// ascending index order, gap-free 0..sceneCount-1. A missing index
// yields a CompositionError and no descriptor.
func BuildConcatDescriptor(composites map[int]string, sceneCount int) (string, error) {
	var b strings.Builder
	for i := 0; i < sceneCount; i++ {
		path, ok := composites[i]
		if !ok || path == "" {
			return "", &CompositionError{Kind: KindMissingAsset, SceneIndex: i, Detail: "composite missing from concat list"}
		}
		fmt.Fprintf(&b, "file '%s'\n", path)
	}
	return b.String(), nil
}

// Assemble concatenates every scene's composite into the final video.
// When all composites share codec, frame rate and time base the streams
// are copied; otherwise the output is re-encoded with the fixed profile.
func (c *Composer) Assemble(ctx context.Context, jobID string, composites map[int]string, sceneCount int) (string, error) {
	descriptor, err := BuildConcatDescriptor(composites, sceneCount)
	if err != nil {
		return "", err
	}

	listPath := ConcatListPath(c.workDir, jobID)
	if err := os.WriteFile(listPath, []byte(descriptor), 0o644); err != nil {
		return "", &CompositionError{Kind: KindEncodeFailed, SceneIndex: -1, Err: err}
	}

	copySafe, err := c.streamsUniform(ctx, composites, sceneCount)
	if err != nil {
		return "", err
	}

	outPath := FinalVideoPath(c.workDir, jobID)
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath}
	if copySafe {
		args = append(args, "-c", "copy")
		if c.encode.FastStart {
			args = append(args, "-movflags", "+faststart")
		}
	} else {
		log.Printf("[compose] job=%s composites differ, re-encoding concat output", jobID)
		args = append(args, c.encodeArgs()...)
	}
	args = append(args, outPath)

	if err := c.run(ctx, args...); err != nil {
		return "", &CompositionError{Kind: KindEncodeFailed, SceneIndex: -1, Err: err}
	}
	return outPath, nil
}

// streamsUniform reports whether every composite carries the same video
// codec, frame rate and time base, making demuxer stream copy safe.
func (c *Composer) streamsUniform(ctx context.Context, composites map[int]string, sceneCount int) (bool, error) {
	var first *media.ProbeResult
	for i := 0; i < sceneCount; i++ {
		probe, err := c.prober.Probe(ctx, composites[i])
		if err != nil {
			return false, &CompositionError{Kind: KindMalformedAsset, SceneIndex: i, Err: err}
		}
		if _, err := media.ParseFrameRateStrict(probe.TimeBase); err != nil {
			return false, &CompositionError{Kind: KindMalformedAsset, SceneIndex: i, Err: err}
		}
		if first == nil {
			first = probe
			continue
		}
		if probe.CodecName != first.CodecName ||
			probe.TimeBase != first.TimeBase ||
			math.Abs(probe.FrameRate-first.FrameRate) > 0.001 {
			return false, nil
		}
	}
	return true, nil
}

// ExtractPreviews grabs preview frames at proportional offsets into the
// final video. Best effort: a failed frame is logged and skipped, never
// failing the job.
func (c *Composer) ExtractPreviews(ctx context.Context, jobID, videoPath string) []string {
	duration, err := c.prober.Duration(ctx, videoPath)
	if err != nil || duration <= 0 {
		log.Printf("[compose] job=%s preview probe failed: %v", jobID, err)
		return nil
	}

	offsets := []float64{0.1, 0.5, 0.9}
	var previews []string
	for i, frac := range offsets {
		outPath := PreviewFramePath(c.workDir, jobID, i+1)
		at := duration * frac
		err := c.run(ctx,
			"-y",
			"-ss", fmtSeconds(at),
			"-i", videoPath,
			"-frames:v", "1",
			"-q:v", "2",
			outPath,
		)
		if err != nil {
			log.Printf("[compose] job=%s preview %d at %.1fs failed: %v", jobID, i+1, at, err)
			continue
		}
		previews = append(previews, outPath)
	}
	return previews
}

// RenderPlaceholderStill writes a dark frame carrying the scene title,
// used when no image provider is configured.
func (c *Composer) RenderPlaceholderStill(ctx context.Context, outPath, title string, w, h int) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	filter := fmt.Sprintf(
		"drawtext=text='%s':fontcolor=white:fontsize=%d:x=(w-text_w)/2:y=(h-text_h)/2",
		escapeFFmpegText(title), h/12,
	)
	return c.run(ctx,
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=0x101018:s=%dx%d:d=1", w, h),
		"-vf", filter,
		"-frames:v", "1",
		outPath,
	)
}

// RenderPlaceholderVoice writes a quiet tone of the given length, used
// when no voice provider is configured.
func (c *Composer) RenderPlaceholderVoice(ctx context.Context, outPath string, seconds float64) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	if seconds <= 0 {
		seconds = 1
	}
	return c.run(ctx,
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=220:sample_rate=44100:duration=%s", fmtSeconds(seconds)),
		"-filter:a", "volume=0.08",
		"-c:a", "libmp3lame",
		outPath,
	)
}

// run executes ffmpeg with the given args, folding tool output into the
// error on failure.
func (c *Composer) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, c.ffmpeg, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w\n%s", c.ffmpeg, strings.Join(args, " "), err, string(out))
	}
	return nil
}

func isStillImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".webp":
		return true
	}
	return false
}

func fmtSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func escapeFFmpegText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "'", "\\'")
	s = strings.ReplaceAll(s, ":", "\\:")
	s = strings.ReplaceAll(s, "%", "\\%")
	return s
}
