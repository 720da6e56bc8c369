package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Roelanb/duetlapse/internal/config"
)

func TestFramePath(t *testing.T) {
	assert.Equal(t, "/tmp/work/IMG00000001.jpeg", FramePath("/tmp/work", 1))
	assert.Equal(t, "/tmp/work/IMG00000042.jpeg", FramePath("/tmp/work", 42))
	assert.Equal(t, "/tmp/work/IMG99999999.jpeg", FramePath("/tmp/work", 99999999))
}

func TestFramePattern(t *testing.T) {
	assert.Equal(t, "/tmp/work/IMG%08d.jpeg", FramePattern("/tmp/work"))
}

func TestSlotFromName(t *testing.T) {
	slot, ok := SlotFromName("IMG00000007.jpeg")
	require.True(t, ok)
	assert.Equal(t, 7, slot)

	slot, ok = SlotFromName("/var/frames/IMG00001234.jpeg")
	require.True(t, ok)
	assert.Equal(t, 1234, slot)

	for _, name := range []string{
		"latest.jpeg",
		"IMG1.jpeg",
		"IMG00000001.png",
		"IMG00000000.jpeg",
		"IMGabcdefgh.jpeg",
	} {
		_, ok := SlotFromName(name)
		assert.False(t, ok, "name %q should not parse", name)
	}
}

func TestCommandUSB(t *testing.T) {
	tool, args, err := Command(Options{Mode: config.CameraUSB}, "/w/IMG00000001.jpeg")
	require.NoError(t, err)
	assert.Equal(t, "fswebcam", tool)
	assert.Equal(t, []string{"--quiet", "--no-banner", "/w/IMG00000001.jpeg"}, args)
}

func TestCommandUSBCustomArgs(t *testing.T) {
	tool, args, err := Command(Options{
		Mode:      config.CameraUSB,
		ExtraArgs: []string{"-r", "1280x720", "--no-banner"},
	}, "/w/IMG00000001.jpeg")
	require.NoError(t, err)
	assert.Equal(t, "fswebcam", tool)
	assert.Equal(t, []string{"-r", "1280x720", "--no-banner", "/w/IMG00000001.jpeg"}, args)
}

func TestCommandPi(t *testing.T) {
	tool, args, err := Command(Options{Mode: config.CameraPi}, "/w/IMG00000002.jpeg")
	require.NoError(t, err)
	assert.Equal(t, "raspistill", tool)
	assert.Equal(t, []string{"-t", "1", "-ex", "sports", "-mm", "matrix", "-n", "-o", "/w/IMG00000002.jpeg"}, args)
}

func TestCommandPiCustomArgsKeepOutputFlag(t *testing.T) {
	tool, args, err := Command(Options{
		Mode:      config.CameraPi,
		ExtraArgs: []string{"-t", "5", "-rot", "180"},
	}, "/w/IMG00000002.jpeg")
	require.NoError(t, err)
	assert.Equal(t, "raspistill", tool)
	assert.Equal(t, []string{"-t", "5", "-rot", "180", "-o", "/w/IMG00000002.jpeg"}, args)
}

func TestCommandStream(t *testing.T) {
	tool, args, err := Command(Options{
		Mode:   config.CameraStream,
		WebURL: "http://cam.local/stream",
	}, "/w/IMG00000003.jpeg")
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg", tool)
	assert.Equal(t, []string{"-y", "-i", "http://cam.local/stream", "-vframes", "1", "/w/IMG00000003.jpeg"}, args)
}

func TestCommandWeb(t *testing.T) {
	tool, args, err := Command(Options{
		Mode:   config.CameraWeb,
		WebURL: "http://cam.local/snapshot.jpeg",
	}, "/w/IMG00000004.jpeg")
	require.NoError(t, err)
	assert.Equal(t, "wget", tool)
	assert.Equal(t, []string{"--auth-no-challenge", "-nv", "-O", "/w/IMG00000004.jpeg", "http://cam.local/snapshot.jpeg"}, args)
}

func TestCommandUnknownMode(t *testing.T) {
	_, _, err := Command(Options{Mode: "dslr"}, "/w/IMG00000001.jpeg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dslr")
}

func TestPreflightUnknownMode(t *testing.T) {
	require.Error(t, Preflight("polaroid"))
}

func TestCaptureRunsTool(t *testing.T) {
	s := New(Options{
		Mode:    config.CameraUSB,
		WorkDir: t.TempDir(),
		Bin:     "true",
		Timeout: 5 * time.Second,
	}, zap.NewNop().Sugar())
	require.NoError(t, s.Capture(context.Background(), 1))
}

func TestCaptureReportsToolFailure(t *testing.T) {
	s := New(Options{
		Mode:    config.CameraUSB,
		WorkDir: t.TempDir(),
		Bin:     "false",
		Timeout: 5 * time.Second,
	}, zap.NewNop().Sugar())
	err := s.Capture(context.Background(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slot 3")
}

func TestResetWorkDir(t *testing.T) {
	dir := t.TempDir() + "/frames"
	require.NoError(t, ResetWorkDir(dir))
	require.NoError(t, ResetWorkDir(dir))
}
