package timelapse

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Roelanb/duetlapse/internal/config"
	"github.com/Roelanb/duetlapse/internal/runlog"
)

// rig fakes the printer and the camera behind one ordered op log so tests
// can assert exact command/capture sequences.
type rig struct {
	mu          sync.Mutex
	ops         []string
	statuses    []Status // consumed one per tick, last value repeats
	layers      []int    // consumed one per Layer call, last value repeats
	coords      Coordinates
	failCapture map[int]bool
	codeErr     func(code string) error
	statusErr   func(call int) error
	statusCalls int
	layerCalls  int
}

func (r *rig) Status(context.Context) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusCalls++
	if r.statusErr != nil {
		if err := r.statusErr(r.statusCalls); err != nil {
			return StatusOther, err
		}
	}
	i := r.statusCalls - 1
	if i >= len(r.statuses) {
		i = len(r.statuses) - 1
	}
	return r.statuses[i], nil
}

func (r *rig) Layer(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layerCalls++
	i := r.layerCalls - 1
	if i >= len(r.layers) {
		i = len(r.layers) - 1
	}
	return r.layers[i], nil
}

func (r *rig) Coordinates(context.Context) (Coordinates, error) {
	return r.coords, nil
}

func (r *rig) SendCode(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.codeErr != nil {
		if err := r.codeErr(code); err != nil {
			return err
		}
	}
	r.ops = append(r.ops, code)
	return nil
}

func (r *rig) Capture(_ context.Context, slot int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, fmt.Sprintf("capture %d", slot))
	if r.failCapture[slot] {
		return errors.New("lens cap on")
	}
	return nil
}

func (r *rig) opLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

type fakeAssembler struct {
	calls  int
	dir    string
	frames int
	out    string
	err    error
}

func (a *fakeAssembler) Assemble(_ context.Context, dir string, frames int) (string, error) {
	a.calls++
	a.dir = dir
	a.frames = frames
	if a.err != nil {
		return "", a.err
	}
	return a.out, nil
}

func testConfig(mut func(*config.Config)) *config.Config {
	cfg := &config.Config{
		Printer: "duet.local",
		Camera:  config.CameraUSB,
		Detect:  config.DetectNone,
		WorkDir: "/tmp/duetlapse-test",
		TickMs:  770,
	}
	if mut != nil {
		mut(cfg)
	}
	return cfg
}

// newTestController puts the controller on a synthetic clock: each tick
// advances time by the tick period instead of sleeping. maxTicks > 0 stops
// the run after that many ticks, standing in for an operator interrupt.
func newTestController(cfg *config.Config, r *rig, asm *fakeAssembler, maxTicks int, mods ...func(*Deps)) *Controller {
	d := Deps{
		Config:    cfg,
		Printer:   r,
		Camera:    r,
		Assembler: asm,
		Log:       zap.NewNop().Sugar(),
	}
	for _, mod := range mods {
		mod(&d)
	}
	c := NewController(d)

	clock := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	ticks := 0
	c.now = func() time.Time { return clock }
	c.sleep = func(ctx context.Context, d time.Duration) bool {
		if ctx.Err() != nil {
			return false
		}
		if maxTicks > 0 && ticks >= maxTicks {
			return false
		}
		ticks++
		clock = clock.Add(d)
		return true
	}
	return c
}

func TestRunCompletesWhenPrintEnds(t *testing.T) {
	r := &rig{statuses: []Status{StatusProcessing, StatusProcessing, StatusIdle}}
	asm := &fakeAssembler{out: "/videos/out.mp4"}
	c := newTestController(testConfig(nil), r, asm, 0)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, asm.calls)
	assert.Equal(t, "/tmp/duetlapse-test", asm.dir)
	assert.Equal(t, 0, asm.frames)

	s := c.Snapshot()
	require.NotNil(t, s)
	assert.Equal(t, "finished", s.Phase)
	assert.Equal(t, "idle", s.Status)
	assert.Equal(t, "/videos/out.mp4", s.Video)
}

func TestCancellationAssemblesCapturedFrames(t *testing.T) {
	r := &rig{
		statuses: []Status{StatusProcessing},
		layers:   []int{1, 2, 3, 4, 5, 6, 7},
	}
	asm := &fakeAssembler{out: "/videos/out.mp4"}
	cfg := testConfig(func(c *config.Config) { c.Detect = config.DetectLayer })
	c := newTestController(cfg, r, asm, 8)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, asm.calls)
	assert.Equal(t, 7, asm.frames)
}

func TestPrinterStatusFailureAssemblesBestEffort(t *testing.T) {
	boom := errors.New("connection torn down")
	r := &rig{
		statuses: []Status{StatusProcessing},
		layers:   []int{1, 2},
	}
	r.statusErr = func(call int) error {
		if call == 4 {
			return boom
		}
		return nil
	}
	asm := &fakeAssembler{}
	cfg := testConfig(func(c *config.Config) { c.Detect = config.DetectLayer })
	c := newTestController(cfg, r, asm, 0)

	err := c.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, asm.calls)
	assert.Equal(t, 2, asm.frames)
}

func TestForcedPauseFailureStillAssembles(t *testing.T) {
	boom := errors.New("printer went away")
	r := &rig{
		statuses: []Status{StatusProcessing},
		layers:   []int{1},
	}
	r.codeErr = func(code string) error {
		if code == "M400" {
			return boom
		}
		return nil
	}
	asm := &fakeAssembler{}
	cfg := testConfig(func(c *config.Config) {
		c.Detect = config.DetectLayer
		c.ForcePause = true
	})
	c := newTestController(cfg, r, asm, 0)

	err := c.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, asm.calls)
	assert.Equal(t, []string{"M25"}, r.opLog())
}

func TestAssemblyFailureSurfaces(t *testing.T) {
	boom := errors.New("encoder exploded")
	r := &rig{statuses: []Status{StatusProcessing, StatusIdle}}
	asm := &fakeAssembler{err: boom}
	c := newTestController(testConfig(nil), r, asm, 0)

	require.ErrorIs(t, c.Run(context.Background()), boom)
}

func TestOnDemandCapture(t *testing.T) {
	r := &rig{statuses: []Status{StatusProcessing, StatusIdle}}
	asm := &fakeAssembler{}
	c := newTestController(testConfig(nil), r, asm, 0)

	c.RequestCapture()
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"capture 1"}, r.opLog())
	assert.Equal(t, 1, asm.frames)
}

func TestRunRecordsLedger(t *testing.T) {
	store, err := runlog.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	rec := &runlog.RunRecord{
		ID:      uuid.NewString(),
		Printer: "duet.local",
		Camera:  config.CameraUSB,
		Detect:  config.DetectNone,
	}
	r := &rig{statuses: []Status{StatusProcessing, StatusIdle}}
	asm := &fakeAssembler{out: "/videos/out.mp4"}
	c := newTestController(testConfig(nil), r, asm, 0, func(d *Deps) {
		d.Ledger = store
		d.Record = rec
	})

	require.NoError(t, c.Run(context.Background()))

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, runlog.OutcomeCompleted, got.Outcome)
	assert.Equal(t, "/videos/out.mp4", got.Video)
	assert.False(t, got.FinishedAt.IsZero())

	s := c.Snapshot()
	require.NotNil(t, s)
	assert.Equal(t, rec.ID, s.RunID)
}
