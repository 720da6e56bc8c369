package timelapse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Roelanb/duetlapse/internal/config"
)

func layerConfig(mut func(*config.Config)) *config.Config {
	return testConfig(func(c *config.Config) {
		c.Detect = config.DetectLayer
		if mut != nil {
			mut(c)
		}
	})
}

func TestLayerChangesDriveCaptures(t *testing.T) {
	// layers 1,1,2,2,3 across five printing ticks: the first reading differs
	// from the unset memory, so captures land on 1, 2 and 3.
	r := &rig{
		statuses: []Status{
			StatusProcessing, StatusProcessing, StatusProcessing,
			StatusProcessing, StatusProcessing, StatusProcessing,
			StatusIdle,
		},
		layers: []int{1, 1, 2, 2, 3},
		coords: Coordinates{X: 30, Y: 40, Z: 0.6},
	}
	asm := &fakeAssembler{}
	c := newTestController(layerConfig(nil), r, asm, 0)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"capture 1", "capture 2", "capture 3"}, r.opLog())
	assert.Equal(t, 3, asm.frames)
}

func TestLayerDecreaseCaptures(t *testing.T) {
	r := &rig{
		statuses: []Status{
			StatusProcessing, StatusProcessing, StatusProcessing,
			StatusProcessing, StatusIdle,
		},
		layers: []int{5, 4, 4},
	}
	asm := &fakeAssembler{}
	c := newTestController(layerConfig(nil), r, asm, 0)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"capture 1", "capture 2"}, r.opLog())
}

func TestIntervalSingleCaptureAcrossTwelveTicks(t *testing.T) {
	// interval 5s against 770ms ticks: the elapsed time crosses 5s once
	// within twelve printing ticks, so exactly one frame is captured.
	statuses := make([]Status, 0, 13)
	for i := 0; i < 12; i++ {
		statuses = append(statuses, StatusProcessing)
	}
	statuses = append(statuses, StatusIdle)
	r := &rig{statuses: statuses}
	asm := &fakeAssembler{}
	cfg := testConfig(func(c *config.Config) { c.Seconds = 5 })
	c := newTestController(cfg, r, asm, 0)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"capture 1"}, r.opLog())
	assert.Equal(t, 1, asm.frames)
}

func TestIntervalMeasuresFromLastCapture(t *testing.T) {
	// 2s interval: captures at 2.31s and 4.62s of run time, never closer
	// together than the configured gap.
	r := &rig{statuses: []Status{
		StatusProcessing, StatusProcessing, StatusProcessing,
		StatusProcessing, StatusProcessing, StatusProcessing,
		StatusIdle,
	}}
	asm := &fakeAssembler{}
	cfg := testConfig(func(c *config.Config) { c.Seconds = 2 })
	c := newTestController(cfg, r, asm, 0)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"capture 1", "capture 2"}, r.opLog())
}

func TestForcedPauseCommandOrder(t *testing.T) {
	r := &rig{
		statuses: []Status{StatusProcessing, StatusProcessing, StatusIdle},
		layers:   []int{3},
	}
	asm := &fakeAssembler{}
	cfg := layerConfig(func(c *config.Config) {
		c.ForcePause = true
		c.MoveHead = &config.XY{X: 10, Y: 20}
	})
	c := newTestController(cfg, r, asm, 0)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{
		"M25",
		"M400",
		"G1 X10.00 Y20.00",
		"M400",
		"capture 1",
		"M24",
	}, r.opLog())
}

func TestForcedPauseWithoutMoveHead(t *testing.T) {
	r := &rig{
		statuses: []Status{StatusProcessing, StatusProcessing, StatusIdle},
		layers:   []int{3},
	}
	asm := &fakeAssembler{}
	cfg := layerConfig(func(c *config.Config) { c.ForcePause = true })
	c := newTestController(cfg, r, asm, 0)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"M25", "M400", "capture 1", "M24"}, r.opLog())
}

func TestLayerCaptureResetsIntervalTimer(t *testing.T) {
	// A layer capture restarts the interval clock, so the interval branch
	// stays quiet on the same tick and fires one full interval later. Each
	// trigger opens and closes its own pause episode.
	r := &rig{
		statuses: []Status{
			StatusProcessing, StatusProcessing, StatusProcessing,
			StatusProcessing, StatusIdle,
		},
		layers: []int{1},
	}
	asm := &fakeAssembler{}
	cfg := layerConfig(func(c *config.Config) {
		c.ForcePause = true
		c.Seconds = 1
	})
	c := newTestController(cfg, r, asm, 0)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{
		"M25", "M400", "capture 1", "M24",
		"M25", "M400", "capture 2", "M24",
	}, r.opLog())
	assert.Equal(t, 2, asm.frames)
}

func TestPauseDetectSingleActionPerEpisode(t *testing.T) {
	// several ticks observe the same pause; only the first acts.
	r := &rig{statuses: []Status{
		StatusProcessing,
		StatusPaused, StatusPaused, StatusPaused,
		StatusProcessing,
		StatusIdle,
	}}
	asm := &fakeAssembler{}
	cfg := testConfig(func(c *config.Config) { c.Detect = config.DetectPause })
	c := newTestController(cfg, r, asm, 0)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"capture 1", "M24"}, r.opLog())
	assert.Equal(t, 1, asm.frames)
}

func TestPauseDetectRearmsAfterResume(t *testing.T) {
	r := &rig{statuses: []Status{
		StatusProcessing,
		StatusPaused,
		StatusProcessing,
		StatusPaused,
		StatusProcessing,
		StatusIdle,
	}}
	asm := &fakeAssembler{}
	cfg := testConfig(func(c *config.Config) { c.Detect = config.DetectPause })
	c := newTestController(cfg, r, asm, 0)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"capture 1", "M24", "capture 2", "M24"}, r.opLog())
}

func TestFailedCaptureKeepsNumberingMonotonic(t *testing.T) {
	r := &rig{
		statuses: []Status{
			StatusProcessing, StatusProcessing, StatusProcessing,
			StatusProcessing, StatusIdle,
		},
		layers:      []int{1, 2, 3},
		failCapture: map[int]bool{2: true},
	}
	asm := &fakeAssembler{}
	c := newTestController(layerConfig(nil), r, asm, 0)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"capture 1", "capture 2", "capture 3"}, r.opLog())
	assert.Equal(t, 3, asm.frames)
}

func TestDontWaitEvaluatesBeforePrint(t *testing.T) {
	r := &rig{
		statuses: []Status{StatusIdle},
		layers:   []int{1, 1, 2},
	}
	asm := &fakeAssembler{}
	cfg := layerConfig(func(c *config.Config) { c.DontWait = true })
	c := newTestController(cfg, r, asm, 3)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"capture 1", "capture 2"}, r.opLog())
	assert.Equal(t, 2, asm.frames)
}
