package timelapse

import (
	"context"
	"time"

	"github.com/Roelanb/duetlapse/internal/config"
)

// LayerUnset marks the layer memory before the first reading; any first
// reading differs from it and therefore captures.
const LayerUnset = -1

// TriggerMemory carries the between-tick state the evaluator needs. Every
// field self-corrects each tick, so nothing ever has to be reset.
type TriggerMemory struct {
	LastLayer int       // last observed layer, LayerUnset before the first tick
	LastShot  time.Time // baseline for the interval trigger, seeded at run start
	Paused    bool      // true while the current pause episode has been acted on
}

// evaluate runs the per-tick trigger checks. Branches are independent; more
// than one may fire in the same tick, each capturing its own frame. Order
// matters: a forced pause opened by the layer or interval branch is resumed
// after both have had their chance to capture under it.
func (c *Controller) evaluate(ctx context.Context, status Status) error {
	fired := false

	if c.cfg.Detect == config.DetectLayer {
		layer, err := c.printer.Layer(ctx)
		if err != nil {
			return err
		}
		if layer != c.mem.LastLayer {
			if err := c.pauseForShot(ctx); err != nil {
				return err
			}
			coords, err := c.printer.Coordinates(ctx)
			if err != nil {
				return err
			}
			c.log.Infow("capturing frame at layer change",
				"slot", c.frames+1, "layer", layer, "x", coords.X, "y", coords.Y, "z", coords.Z)
			c.shoot(ctx)
			fired = true
		}
		c.mem.LastLayer = layer
	}

	if c.cfg.Seconds > 0 {
		if elapsed := c.now().Sub(c.mem.LastShot); elapsed >= c.cfg.Interval() {
			if err := c.pauseForShot(ctx); err != nil {
				return err
			}
			c.log.Infow("capturing frame after interval",
				"slot", c.frames+1, "elapsed", elapsed.Round(10*time.Millisecond))
			c.shoot(ctx)
			fired = true
		}
	}

	if fired {
		if err := c.resumeIfPaused(ctx); err != nil {
			return err
		}
	}

	if c.cfg.Detect == config.DetectPause && status == StatusPaused && !c.mem.Paused {
		c.mem.Paused = true
		c.log.Infow("printer pause detected", "slot", c.frames+1)
		c.shoot(ctx)
		if err := c.sendCode(ctx, "M24"); err != nil {
			return err
		}
	}

	// re-arm once the printer has left the paused state
	if c.mem.Paused && status != StatusPaused {
		c.mem.Paused = false
	}
	return nil
}
