package navigation

import (
	"context"
	"time"

	"github.com/odvcencio/scormview/pkg/errors"
	"github.com/odvcencio/scormview/pkg/observability"
)

// Commands sent from the host side to the content bridge.
const (
	CmdHelperInit = "helper-init"
	CmdNavigate   = "navigate"
	CmdNavRequest = "nav-request"
	CmdClick      = "click"
	CmdKey        = "key"
	CmdReload     = "reload"
	CmdPublish    = "publish"
)

// Command is the {scormCommand, data} message delivered to content.
type Command struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"scormCommand"`
	Data any    `json:"data,omitempty"`
}

// Ack is the bridge's reply to a command.
type Ack struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Sender delivers a command to the content side and waits for its ack.
type Sender interface {
	Send(ctx context.Context, cmd Command) (Ack, error)
}

// Attempt describes one host-initiated navigation.
type Attempt struct {
	Direction Direction
	// Version is the runtime generation the content initialised, "1.2" or
	// "2004".
	Version  string
	Controls Controls
	// Request records adl.nav.request in the runtime before the commit.
	Request func(request string)
	// Commit flushes runtime state before a SCORM navigation request.
	Commit func()
}

// Strategy is one step of the fallback chain. Run reports whether the
// content acted on the request.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, s Sender, a Attempt) (bool, error)
}

// DefaultStrategies returns the fallback chain in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "direct-message", Run: directMessage},
		{Name: "nav-request", Run: navRequest},
		{Name: "helper-click", Run: helperClick},
		{Name: "dom-fallback", Run: domFallback},
		{Name: "arrow-key", Run: arrowKey},
	}
}

func send(ctx context.Context, s Sender, name string, data any) (bool, error) {
	ack, err := s.Send(ctx, Command{Name: name, Data: data})
	if err != nil {
		return false, err
	}
	return ack.OK, nil
}

func directMessage(ctx context.Context, s Sender, a Attempt) (bool, error) {
	return send(ctx, s, CmdNavigate, map[string]string{"direction": string(a.Direction)})
}

func navRequest(ctx context.Context, s Sender, a Attempt) (bool, error) {
	if a.Version != "2004" {
		return false, nil
	}
	request := a.Direction.NavRequest()
	if a.Request != nil {
		a.Request(request)
	}
	if a.Commit != nil {
		a.Commit()
	}
	return send(ctx, s, CmdNavRequest, map[string]string{"request": request})
}

func helperClick(ctx context.Context, s Sender, a Attempt) (bool, error) {
	data := map[string]any{"direction": string(a.Direction), "helper": true}
	if c := a.Controls.Get(a.Direction); c != nil {
		data["selectors"] = []string{c.Selector}
	}
	return send(ctx, s, CmdClick, data)
}

func domFallback(ctx context.Context, s Sender, a Attempt) (bool, error) {
	return send(ctx, s, CmdClick, map[string]any{
		"direction": string(a.Direction),
		"selectors": FallbackSelectors[a.Direction],
	})
}

func arrowKey(ctx context.Context, s Sender, a Attempt) (bool, error) {
	return send(ctx, s, CmdKey, map[string]string{"key": a.Direction.Key()})
}

// Result records which strategy succeeded.
type Result struct {
	Direction Direction `json:"direction"`
	Strategy  string    `json:"strategy"`
	Tried     []string  `json:"tried"`
}

// Chain runs strategies in order until one succeeds.
type Chain struct {
	strategies  []Strategy
	stepTimeout time.Duration
	logger      *observability.Logger
}

// DefaultStepTimeout bounds how long one strategy waits for an ack.
const DefaultStepTimeout = 2 * time.Second

// NewChain creates a chain. A nil strategy list uses DefaultStrategies.
func NewChain(strategies []Strategy, stepTimeout time.Duration, logger *observability.Logger) *Chain {
	if strategies == nil {
		strategies = DefaultStrategies()
	}
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Chain{strategies: strategies, stepTimeout: stepTimeout, logger: logger}
}

// Strategies returns the strategy names in order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name
	}
	return names
}

// Navigate tries each strategy until the content acknowledges one. Step
// errors are logged and the chain moves on.
func (c *Chain) Navigate(ctx context.Context, s Sender, a Attempt) (Result, error) {
	res := Result{Direction: a.Direction}
	for _, strategy := range c.strategies {
		if err := ctx.Err(); err != nil {
			return res, errors.Aborted("navigate", err)
		}
		res.Tried = append(res.Tried, strategy.Name)

		stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
		ok, err := strategy.Run(stepCtx, s, a)
		cancel()

		outcome := "miss"
		switch {
		case err != nil:
			outcome = "error"
			c.logger.Debug("navigation strategy failed", "strategy", strategy.Name, "error", err.Error())
		case ok:
			outcome = "ok"
		}
		observability.NavigationAttempts.WithLabelValues(strategy.Name, outcome).Inc()
		c.logger.NavigationAttempt(string(a.Direction), strategy.Name, ok)

		if ok && err == nil {
			res.Strategy = strategy.Name
			return res, nil
		}
	}
	return res, errors.NavigationFailed(string(a.Direction), res.Tried)
}
