package renderer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vidcompose/vidcompose/pkg/files"
	"github.com/vidcompose/vidcompose/pkg/models"
)

// FFmpegRenderer shells out to ffmpeg to produce the composition.
// Output artifacts are written to <outputDir>/<identity>/<jobID>.<format>
// and referenced by that relative path.
type FFmpegRenderer struct {
	binary    string
	outputDir string
	resolver  files.Checker
}

// NewFFmpegRenderer creates a renderer writing into outputDir
func NewFFmpegRenderer(binary, outputDir string, resolver files.Checker) *FFmpegRenderer {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegRenderer{
		binary:    binary,
		outputDir: outputDir,
		resolver:  resolver,
	}
}

// Render builds and runs the ffmpeg command for the job's composition.
// Cancelling ctx kills the ffmpeg process.
func (r *FFmpegRenderer) Render(ctx context.Context, job *models.Job, progress ProgressFunc) (string, error) {
	req := job.Request
	if req == nil {
		return "", models.NewJobError(models.ErrCodeInternalError, "job %s has no composition request", job.ID)
	}

	format := req.Video.Format
	if format == "" {
		format = "mp4"
	}
	relPath := filepath.Join(job.Identity, fmt.Sprintf("%s.%s", job.ID, format))
	outPath := filepath.Join(r.outputDir, relPath)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	args, err := r.buildArgs(job, outPath)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, r.binary, args...)

	// Progress is read from ffmpeg's machine-readable progress stream
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("progress pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start ffmpeg: %w", err)
	}

	totalUS := req.TotalDuration() * 1e6
	go r.trackProgress(stdout, totalUS, progress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Printf("[Renderer] ffmpeg failed for job %s: %v", job.ID, err)
		return "", fmt.Errorf("ffmpeg: %w: %s", err, lastLine(stderr.String()))
	}

	if progress != nil {
		progress(100)
	}
	return relPath, nil
}

// buildArgs assembles the ffmpeg invocation: one input per scene (and
// the audio track), a filter graph scaling and concatenating scenes in
// order, overlays on top, and the encode settings last.
func (r *FFmpegRenderer) buildArgs(job *models.Job, outPath string) ([]string, error) {
	req := job.Request
	args := []string{"-hide_banner", "-y", "-progress", "pipe:1", "-nostats"}

	var filters []string
	for i, scene := range req.Scenes {
		src := r.resolver.Resolve(scene.SourceID, job.Identity)
		if src == "" {
			return nil, models.NewJobError(models.ErrCodeResourceGone,
				"resource %q no longer exists", scene.SourceID)
		}
		if scene.MediaType == models.MediaTypeImage {
			args = append(args, "-loop", "1", "-t", formatSeconds(scene.Duration), "-i", src)
		} else {
			args = append(args, "-t", formatSeconds(scene.Duration), "-i", src)
		}

		res := strings.Replace(req.Video.Resolution, "x", ":", 1)
		filter := fmt.Sprintf("[%d:v]scale=%s:force_original_aspect_ratio=decrease,pad=%s:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d",
			i, res, res, fpsOrDefault(req.Video.FPS))
		if scene.Transition == models.TransitionFade || scene.Transition == models.TransitionCrossfade {
			filter += ",fade=t=in:st=0:d=0.5"
		}
		filter += fmt.Sprintf("[v%d]", i)
		filters = append(filters, filter)
	}

	audioIndex := -1
	if req.Audio != nil && req.Audio.TrackID != "" {
		src := r.resolver.Resolve(req.Audio.TrackID, job.Identity)
		if src == "" {
			return nil, models.NewJobError(models.ErrCodeResourceGone,
				"resource %q no longer exists", req.Audio.TrackID)
		}
		audioIndex = len(req.Scenes)
		args = append(args, "-i", src)
	}

	concat := ""
	for i := range req.Scenes {
		concat += fmt.Sprintf("[v%d]", i)
	}
	concat += fmt.Sprintf("concat=n=%d:v=1:a=0[vout]", len(req.Scenes))
	filters = append(filters, concat)

	args = append(args, "-filter_complex", strings.Join(filters, ";"))
	args = append(args, "-map", "[vout]")
	if audioIndex >= 0 {
		args = append(args, "-map", fmt.Sprintf("%d:a", audioIndex))
		args = append(args, "-filter:a", fmt.Sprintf("volume=%s", formatSeconds(req.Audio.Volume)))
		args = append(args, "-shortest")
	}

	args = append(args, "-c:v", "libx264", "-preset", qualityPreset(req.Video.Quality), "-pix_fmt", "yuv420p")
	args = append(args, outPath)
	return args, nil
}

func (r *FFmpegRenderer) trackProgress(pipe io.Reader, totalUS float64, progress ProgressFunc) {
	if progress == nil || totalUS <= 0 {
		return
	}
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "out_time_us=") {
			continue
		}
		us, err := strconv.ParseFloat(strings.TrimPrefix(line, "out_time_us="), 64)
		if err != nil {
			continue
		}
		pct := int(us / totalUS * 100)
		if pct > 99 {
			pct = 99 // 100 is reported only after a clean exit
		}
		progress(pct)
	}
}

func qualityPreset(quality string) string {
	switch quality {
	case "low":
		return "ultrafast"
	case "high":
		return "slow"
	case "ultra":
		return "veryslow"
	default:
		return "medium"
	}
}

func fpsOrDefault(fps int) int {
	if fps <= 0 {
		return 30
	}
	return fps
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
