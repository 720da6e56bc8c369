// Package video turns a captured frame sequence into an mp4 by shelling out
// to ffmpeg once at the end of a run.
package video

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Roelanb/duetlapse/internal/capture"
)

// Options configures the encode.
type Options struct {
	OutDir    string        // destination directory for the video file
	ExtraTime float64       // seconds the final frame is held; 0 disables the hold
	ExtraArgs []string      // replaces the default "-r 10" input-rate prefix
	Bin       string        // encoder binary; defaults to ffmpeg
	Timeout   time.Duration // 0 means no limit; long prints encode slowly
}

// Preflight verifies the encoder is installed.
func Preflight() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg is required for video assembly (sudo apt install ffmpeg): %w", err)
	}
	return nil
}

// OutputName returns the timestamped video path for a run ending at ts.
func OutputName(dir string, ts time.Time) string {
	return filepath.Join(dir, "DuetLapse-"+ts.Format("20060102-150405")+".mp4")
}

// Args builds the full ffmpeg argument vector for one encode. Pure so tests
// can cover the option matrix without running the encoder.
func Args(pattern string, opts Options, out string) []string {
	var args []string
	if len(opts.ExtraArgs) > 0 {
		args = append(args, opts.ExtraArgs...)
	} else {
		args = append(args, "-r", "10")
	}
	args = append(args, "-i", pattern)
	if opts.ExtraTime > 0 {
		filter := "tpad=stop_mode=clone:stop_duration=" + strconv.FormatFloat(opts.ExtraTime, 'f', -1, 64) + ",fps=10"
		args = append(args, "-c:v", "libx264", "-vf", filter)
	} else {
		args = append(args, "-vcodec", "libx264")
	}
	return append(args, "-y", "-v", "8", out)
}

// FFmpeg implements the core's Assembler port.
type FFmpeg struct {
	opts Options
	log  *zap.SugaredLogger
	now  func() time.Time
}

func New(opts Options, log *zap.SugaredLogger) *FFmpeg {
	if opts.Bin == "" {
		opts.Bin = "ffmpeg"
	}
	return &FFmpeg{opts: opts, log: log, now: time.Now}
}

// Assemble encodes the frames under frameDir into one video file and returns
// its path. With zero frames there is nothing to encode; that is not an error
// and the returned path is empty.
func (f *FFmpeg) Assemble(ctx context.Context, frameDir string, frames int) (string, error) {
	if frames == 0 {
		f.log.Infow("no frames captured, skipping video assembly")
		return "", nil
	}

	out := OutputName(f.opts.OutDir, f.now())
	args := Args(capture.FramePattern(frameDir), f.opts, out)

	f.log.Infow("assembling video at 10 frames per second", "frames", frames, "output", out)
	if frames > 250 {
		f.log.Infow("large frame count, this can take a while")
	}

	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, f.opts.Bin, args...)
	outp, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("assemble %d frames: %s failed: %w; output=%s", frames, f.opts.Bin, err, string(outp))
	}
	f.log.Infow("video assembly complete", "output", out)
	return out, nil
}
