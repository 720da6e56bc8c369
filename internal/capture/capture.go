// Package capture produces numbered still images by invoking an external
// camera tool. Frames land in the work directory as IMG00000001.jpeg,
// IMG00000002.jpeg, ... so that lexicographic order equals capture order and
// ffmpeg's %08d input pattern picks them up directly.
package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Roelanb/duetlapse/internal/config"
)

const (
	framePrefix = "IMG"
	frameSuffix = ".jpeg"
	frameDigits = 8
)

// FramePath returns the image path for a frame slot.
func FramePath(dir string, slot int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%0*d%s", framePrefix, frameDigits, slot, frameSuffix))
}

// FramePattern returns the printf-style sequence pattern the encoder consumes.
func FramePattern(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("%s%%0%dd%s", framePrefix, frameDigits, frameSuffix))
}

// SlotFromName parses a frame file name back into its slot number.
func SlotFromName(name string) (int, bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, framePrefix) || !strings.HasSuffix(base, frameSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(base, framePrefix), frameSuffix)
	if len(digits) != frameDigits {
		return 0, false
	}
	slot, err := strconv.Atoi(digits)
	if err != nil || slot <= 0 {
		return 0, false
	}
	return slot, true
}

// ResetWorkDir wipes leftover frames from a previous run and recreates the
// directory.
func ResetWorkDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear work dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	return nil
}

// Options selects the capture mechanism.
type Options struct {
	Mode      string        // config.CameraUSB, CameraPi, CameraStream or CameraWeb
	WorkDir   string        // destination for numbered frames
	WebURL    string        // source for stream/web modes
	ExtraArgs []string      // replaces the tool's default arguments when set
	Bin       string        // overrides the tool binary; defaults per mode
	Timeout   time.Duration // per invocation; default 60s
}

// Tool returns the external binary used by a camera mode.
func Tool(mode string) (string, error) {
	switch mode {
	case config.CameraUSB:
		return "fswebcam", nil
	case config.CameraPi:
		return "raspistill", nil
	case config.CameraStream:
		return "ffmpeg", nil
	case config.CameraWeb:
		return "wget", nil
	default:
		return "", fmt.Errorf("unknown camera mode %q", mode)
	}
}

var installHints = map[string]string{
	"fswebcam":   "sudo apt install fswebcam",
	"raspistill": "sudo apt install libraspberrypi-bin",
	"ffmpeg":     "sudo apt install ffmpeg",
	"wget":       "sudo apt install wget",
}

// Preflight verifies the camera tool for the mode is installed.
func Preflight(mode string) error {
	tool, err := Tool(mode)
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(tool); err != nil {
		if hint, ok := installHints[tool]; ok {
			return fmt.Errorf("%s is required for camera %q (%s): %w", tool, mode, hint, err)
		}
		return fmt.Errorf("%s is required for camera %q: %w", tool, mode, err)
	}
	return nil
}

// Command returns the binary and argument vector that writes one still image
// to file. Pure so tests can check the exact invocation without a camera.
func Command(opts Options, file string) (string, []string, error) {
	tool := opts.Bin
	if tool == "" {
		var err error
		tool, err = Tool(opts.Mode)
		if err != nil {
			return "", nil, err
		}
	}

	var args []string
	switch opts.Mode {
	case config.CameraUSB:
		if len(opts.ExtraArgs) == 0 {
			args = []string{"--quiet", "--no-banner", file}
		} else {
			args = append(append([]string{}, opts.ExtraArgs...), file)
		}
	case config.CameraPi:
		if len(opts.ExtraArgs) == 0 {
			args = []string{"-t", "1", "-ex", "sports", "-mm", "matrix", "-n", "-o", file}
		} else {
			args = append(append([]string{}, opts.ExtraArgs...), "-o", file)
		}
	case config.CameraStream:
		if len(opts.ExtraArgs) == 0 {
			args = []string{"-y", "-i", opts.WebURL, "-vframes", "1", file}
		} else {
			args = append(append([]string{}, opts.ExtraArgs...), "-i", opts.WebURL, "-vframes", "1", file)
		}
	case config.CameraWeb:
		if len(opts.ExtraArgs) == 0 {
			args = []string{"--auth-no-challenge", "-nv", "-O", file, opts.WebURL}
		} else {
			args = append(append([]string{}, opts.ExtraArgs...), "-O", file, opts.WebURL)
		}
	default:
		return "", nil, fmt.Errorf("unknown camera mode %q", opts.Mode)
	}
	return tool, args, nil
}

// Shooter implements the core's Camera port over an external tool.
type Shooter struct {
	opts Options
	log  *zap.SugaredLogger
}

func New(opts Options, log *zap.SugaredLogger) *Shooter {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Shooter{opts: opts, log: log}
}

// Capture runs the camera tool for the given slot. The caller treats a
// returned error as a skipped frame, not a fatal condition.
func (s *Shooter) Capture(ctx context.Context, slot int) error {
	file := FramePath(s.opts.WorkDir, slot)
	tool, args, err := Command(s.opts, file)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, tool, args...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("capture slot %d: %s timed out after %s; output=%s", slot, tool, s.opts.Timeout, string(out))
	}
	if err != nil {
		return fmt.Errorf("capture slot %d: %s failed: %w; output=%s", slot, tool, err, string(out))
	}
	s.log.Debugw("frame written", "slot", slot, "file", file, "tool", tool)
	return nil
}
