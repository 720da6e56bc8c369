package timelapse

import (
	"context"
	"fmt"
	"strings"

	"github.com/Roelanb/duetlapse/internal/observability"
)

// pauseForShot opens a forced-pause episode before a triggered capture: pause
// the print, wait for motion to drain, optionally park the head and wait
// again. No photo may be taken between the pause request and its sync. Reused
// episodes (a second branch firing in the same tick) skip straight through.
func (c *Controller) pauseForShot(ctx context.Context) error {
	if !c.cfg.ForcePause || c.mem.Paused {
		return nil
	}
	c.log.Infow("pausing print for capture")
	if err := c.sendCode(ctx, "M25"); err != nil {
		return err
	}
	if err := c.sendCode(ctx, "M400"); err != nil {
		return err
	}
	c.mem.Paused = true

	if xy := c.cfg.MoveHead; xy != nil {
		c.log.Infow("moving print head clear", "x", xy.X, "y", xy.Y)
		if err := c.sendCode(ctx, fmt.Sprintf("G1 X%.2f Y%.2f", xy.X, xy.Y)); err != nil {
			return err
		}
		if err := c.sendCode(ctx, "M400"); err != nil {
			return err
		}
	}
	return nil
}

// resumeIfPaused closes a forced-pause episode. Pauses detected in the
// printer's own gcode are resumed by the pause trigger itself, not here.
func (c *Controller) resumeIfPaused(ctx context.Context) error {
	if !c.cfg.ForcePause || !c.mem.Paused {
		return nil
	}
	c.log.Infow("resuming print after capture")
	if err := c.sendCode(ctx, "M24"); err != nil {
		return err
	}
	c.mem.Paused = false
	return nil
}

func (c *Controller) sendCode(ctx context.Context, code string) error {
	word := code
	if i := strings.IndexByte(code, ' '); i > 0 {
		word = code[:i]
	}
	observability.PrinterCommands.WithLabelValues(word).Inc()
	c.log.Debugw("sending gcode", "code", code)
	if err := c.printer.SendCode(ctx, code); err != nil {
		return fmt.Errorf("send %s: %w", word, err)
	}
	return nil
}
