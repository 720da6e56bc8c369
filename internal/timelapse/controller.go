package timelapse

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Roelanb/duetlapse/internal/config"
	"github.com/Roelanb/duetlapse/internal/observability"
	"github.com/Roelanb/duetlapse/internal/runlog"
)

// LifecyclePhase tracks where the run is. Transitions only move forward;
// PhaseFinished is terminal.
type LifecyclePhase int

const (
	PhaseAwaitingPrint LifecyclePhase = iota
	PhasePrinting
	PhaseFinished
)

func (p LifecyclePhase) String() string {
	switch p {
	case PhaseAwaitingPrint:
		return "awaiting-print"
	case PhasePrinting:
		return "printing"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Snapshot is the loop's published state, refreshed once per tick for the
// status API. Immutable once stored.
type Snapshot struct {
	RunID       string    `json:"runId,omitempty"`
	Printer     string    `json:"printer"`
	Phase       string    `json:"phase"`
	Status      string    `json:"printerStatus"`
	Frames      int       `json:"frames"`
	Layer       int       `json:"layer"`
	LastCapture time.Time `json:"lastCapture"`
	Video       string    `json:"video,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
}

// Deps wires the controller to its collaborators. Ledger and Record are
// optional; without them the run simply is not persisted.
type Deps struct {
	Config    *config.Config
	Printer   Printer
	Camera    Camera
	Assembler Assembler
	Log       *zap.SugaredLogger
	Ledger    runlog.Store
	Record    *runlog.RunRecord
}

// Controller owns the whole run: one goroutine, one tick loop, every piece
// of trigger state local to it.
type Controller struct {
	cfg       *config.Config
	printer   Printer
	camera    Camera
	assembler Assembler
	log       *zap.SugaredLogger
	ledger    runlog.Store
	rec       *runlog.RunRecord

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	phase       LifecyclePhase
	mem         TriggerMemory
	frames      int
	lastCapture time.Time
	lastStatus  Status
	startedAt   time.Time
	video       string

	captureReq atomic.Bool
	snap       atomic.Pointer[Snapshot]
}

func NewController(d Deps) *Controller {
	c := &Controller{
		cfg:        d.Config,
		printer:    d.Printer,
		camera:     d.Camera,
		assembler:  d.Assembler,
		log:        d.Log,
		ledger:     d.Ledger,
		rec:        d.Record,
		now:        time.Now,
		sleep:      sleepCtx,
		lastStatus: StatusOther,
	}
	c.mem.LastLayer = LayerUnset
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RequestCapture asks the loop for one plain capture at the next tick.
// Safe from any goroutine.
func (c *Controller) RequestCapture() {
	c.captureReq.Store(true)
}

// Snapshot returns the most recently published state, nil before the first
// tick.
func (c *Controller) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Run drives the print from first tick to assembled video. Cancelling ctx
// moves the run to the finish path; printer and camera calls keep their own
// lifetime so an in-flight pause/capture/resume sequence always completes and
// the printer is never left paused.
func (c *Controller) Run(ctx context.Context) error {
	wctx := context.WithoutCancel(ctx)

	c.startedAt = c.now()
	c.mem.LastShot = c.startedAt
	c.recordStart()

	if c.cfg.DontWait {
		c.log.Infow("not waiting for print start, capturing from now on", "printer", c.cfg.Printer)
	} else {
		c.log.Infow("waiting for print to start", "printer", c.cfg.Printer)
	}
	c.publish()

	for {
		if !c.sleep(ctx, c.cfg.Tick()) {
			c.log.Infow("stop requested, moving to video assembly", "frames", c.frames)
			return c.finish(wctx, runlog.OutcomeCancelled, nil)
		}
		observability.Ticks.Inc()

		if c.captureReq.Swap(false) {
			c.log.Infow("on-demand frame requested", "slot", c.frames+1)
			c.shoot(wctx)
		}

		status, err := c.printer.Status(wctx)
		if err != nil {
			return c.fail(wctx, err)
		}
		c.lastStatus = status

		switch c.phase {
		case PhaseAwaitingPrint:
			if c.cfg.DontWait {
				if err := c.evaluate(wctx, status); err != nil {
					return c.fail(wctx, err)
				}
			}
			if status == StatusProcessing {
				c.log.Infow("print start sensed, end of print will trigger video assembly")
				c.phase = PhasePrinting
			}
		case PhasePrinting:
			if err := c.evaluate(wctx, status); err != nil {
				return c.fail(wctx, err)
			}
			if status == StatusIdle {
				c.log.Infow("print end sensed", "frames", c.frames)
				c.phase = PhaseFinished
			}
		}

		c.publish()
		if c.phase == PhaseFinished {
			return c.finish(wctx, runlog.OutcomeCompleted, nil)
		}
	}
}

func (c *Controller) fail(ctx context.Context, err error) error {
	observability.PrinterErrors.Inc()
	c.log.Errorw("printer interaction failed, stopping run", "error", err)
	return c.finish(ctx, runlog.OutcomeFailed, err)
}

// finish is the single terminal path: leave the printer running, assemble
// whatever frames exist, persist the outcome.
func (c *Controller) finish(ctx context.Context, outcome runlog.Outcome, cause error) error {
	c.phase = PhaseFinished

	if err := c.resumeIfPaused(ctx); err != nil {
		c.log.Errorw("resume before assembly failed, printer may still be paused", "error", err)
	}

	video, aerr := c.assembler.Assemble(ctx, c.cfg.WorkDir, c.frames)
	if aerr != nil {
		c.log.Errorw("video assembly failed", "frames", c.frames, "error", aerr)
		if cause == nil {
			outcome = runlog.OutcomeFailed
		}
	} else {
		c.video = video
	}

	c.publish()
	c.recordFinish(outcome, cause, aerr)

	if cause != nil {
		return cause
	}
	return aerr
}

// shoot advances the frame counter and captures into that slot. A failed
// capture keeps its slot number so numbering stays monotonic; the encoder
// tolerates the gap.
func (c *Controller) shoot(ctx context.Context) {
	c.frames++
	if err := c.camera.Capture(ctx, c.frames); err != nil {
		observability.CaptureFailures.Inc()
		c.log.Errorw("capture failed, slot skipped", "slot", c.frames, "error", err)
	} else {
		observability.FramesCaptured.Inc()
	}
	c.lastCapture = c.now()
	c.mem.LastShot = c.lastCapture
}

func (c *Controller) publish() {
	s := &Snapshot{
		Printer:     c.cfg.Printer,
		Phase:       c.phase.String(),
		Status:      c.lastStatus.String(),
		Frames:      c.frames,
		Layer:       c.mem.LastLayer,
		LastCapture: c.lastCapture,
		Video:       c.video,
		StartedAt:   c.startedAt,
	}
	if c.rec != nil {
		s.RunID = c.rec.ID
	}
	c.snap.Store(s)
}

func (c *Controller) recordStart() {
	if c.rec == nil || c.ledger == nil {
		return
	}
	if c.rec.StartedAt.IsZero() {
		c.rec.StartedAt = c.startedAt
	}
	c.rec.Outcome = runlog.OutcomeRunning
	if err := c.ledger.Put(c.rec); err != nil {
		c.log.Warnw("run ledger write failed", "error", err)
	}
}

func (c *Controller) recordFinish(outcome runlog.Outcome, cause, aerr error) {
	if c.rec == nil || c.ledger == nil {
		return
	}
	c.rec.FinishedAt = c.now()
	c.rec.Frames = c.frames
	c.rec.Video = c.video
	c.rec.Outcome = outcome
	if cause != nil {
		c.rec.LastError = cause.Error()
	} else if aerr != nil {
		c.rec.LastError = aerr.Error()
	}
	if err := c.ledger.Put(c.rec); err != nil {
		c.log.Warnw("run ledger update failed", "error", err)
	}
}
