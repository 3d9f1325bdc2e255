package viewer

import (
	"time"

	"github.com/odvcencio/scormview/pkg/observability"
	"github.com/odvcencio/scormview/pkg/telemetry"
)

// Blank-screen reasons.
const (
	BlankLoadTimeout  = "load-timeout"
	BlankNoLifeSignal = "no-life-signal"
)

// armLoadTimer watches for the surface load signal. Caller holds mu.
func (c *Controller) armLoadTimer(gen int) {
	if c.loadTimer != nil {
		c.loadTimer.Stop()
	}
	c.loadTimer = time.AfterFunc(c.opts.LoadTimeout, func() {
		c.suspectBlank(gen, BlankLoadTimeout)
	})
}

// armAliveTimer watches for the first life signal after load. Caller holds
// mu.
func (c *Controller) armAliveTimer(gen int) {
	if c.aliveTimer != nil {
		c.aliveTimer.Stop()
	}
	c.aliveTimer = time.AfterFunc(c.opts.BlankScreenTimeout, func() {
		c.suspectBlank(gen, BlankNoLifeSignal)
	})
}

// Caller holds mu.
func (c *Controller) stopTimersLocked() {
	if c.loadTimer != nil {
		c.loadTimer.Stop()
		c.loadTimer = nil
	}
	if c.aliveTimer != nil {
		c.aliveTimer.Stop()
		c.aliveTimer = nil
	}
}

// suspectBlank raises the blank-screen flag. It never moves the session to
// the error stage.
func (c *Controller) suspectBlank(gen int, reason string) {
	c.mu.Lock()
	if !c.current(gen) || c.stage == StageError {
		c.mu.Unlock()
		return
	}
	switch reason {
	case BlankLoadTimeout:
		if c.surface {
			c.mu.Unlock()
			return
		}
	case BlankNoLifeSignal:
		if c.alive {
			c.mu.Unlock()
			return
		}
	}
	c.blank = true
	c.blankReason = reason
	view := c.viewLocked()
	c.mu.Unlock()

	observability.BlankScreens.WithLabelValues(reason).Inc()
	c.logger.BlankScreenSuspected(reason)
	c.event(telemetry.EventBlankScreen, map[string]any{"reason": reason})
	c.publishView(view)
}
