package scorm

import (
	stderrors "errors"
	"sync"

	"github.com/odvcencio/scormview/pkg/observability"
)

// ErrCrossOrigin is returned by contexts the runtime cannot be installed into.
var ErrCrossOrigin = stderrors.New("cross-origin context")

// DefaultSearchDepth bounds ancestor traversal during publication.
const DefaultSearchDepth = 5

// Context is one execution context (window/frame) content may look the
// runtime up from.
type Context interface {
	ID() string
	Parent() Context
	Children() []Context
	Install(rt *Runtime) error
	Runtime() *Runtime
}

// Frame is an in-memory Context. Content-side frames are mirrored as Frames
// so publication targets can be computed on the server.
type Frame struct {
	id          string
	parent      *Frame
	mu          sync.RWMutex
	children    []*Frame
	crossOrigin bool
	runtime     *Runtime
}

// NewFrame creates a frame and attaches it to parent when parent is non-nil.
func NewFrame(id string, parent *Frame) *Frame {
	f := &Frame{id: id, parent: parent}
	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, f)
		parent.mu.Unlock()
	}
	return f
}

// ID returns the frame id.
func (f *Frame) ID() string { return f.id }

// Parent returns the parent context, or nil at the top.
func (f *Frame) Parent() Context {
	if f.parent == nil {
		return nil
	}
	return f.parent
}

// Children returns the direct child contexts.
func (f *Frame) Children() []Context {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Context, 0, len(f.children))
	for _, c := range f.children {
		out = append(out, c)
	}
	return out
}

// SetCrossOrigin marks the frame as unreachable for installation.
func (f *Frame) SetCrossOrigin(cross bool) {
	f.mu.Lock()
	f.crossOrigin = cross
	f.mu.Unlock()
}

// Install attaches rt to the frame.
func (f *Frame) Install(rt *Runtime) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.crossOrigin {
		return ErrCrossOrigin
	}
	f.runtime = rt
	return nil
}

// Runtime returns the runtime installed in this frame, if any.
func (f *Frame) Runtime() *Runtime {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.runtime
}

// Find returns the frame with id in the subtree rooted at f.
func (f *Frame) Find(id string) (*Frame, bool) {
	if f.id == id {
		return f, true
	}
	f.mu.RLock()
	children := append([]*Frame{}, f.children...)
	f.mu.RUnlock()
	for _, c := range children {
		if found, ok := c.Find(id); ok {
			return found, true
		}
	}
	return nil, false
}

// PublishReport lists where the runtime was installed.
type PublishReport struct {
	Installed []string `json:"installed"`
	Failed    []string `json:"failed,omitempty"`
	Repeat    bool     `json:"repeat,omitempty"`
}

// Registry publishes one session's runtime. It is owned by the session
// controller and passed explicitly to whoever needs the runtime.
type Registry struct {
	runtime *Runtime
	depth   int
	logger  *observability.Logger

	mu        sync.Mutex
	published bool
}

// NewRegistry creates a registry for rt. depth bounds ancestor traversal.
func NewRegistry(rt *Runtime, depth int, logger *observability.Logger) *Registry {
	if depth <= 0 {
		depth = DefaultSearchDepth
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Registry{runtime: rt, depth: depth, logger: logger}
}

// Runtime returns the published runtime.
func (r *Registry) Runtime() *Runtime {
	return r.runtime
}

// Published reports whether Publish has run.
func (r *Registry) Published() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published
}

// Publish installs the runtime into target, its parent, the top context,
// ancestors up to the search depth and every descendant of target. Contexts
// that refuse installation are logged and skipped along with their subtree.
// Every call recomputes the targets from the current tree so a reloaded
// surface is covered; the runtime and its state are shared by all calls.
// Calls after the first are marked as a repeat.
func (r *Registry) Publish(target Context) PublishReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := PublishReport{Repeat: r.published}
	seen := make(map[string]bool)
	install := func(c Context) bool {
		if c == nil || seen[c.ID()] {
			return false
		}
		seen[c.ID()] = true
		if err := c.Install(r.runtime); err != nil {
			r.logger.PublishFailed(c.ID(), err)
			report.Failed = append(report.Failed, c.ID())
			return false
		}
		report.Installed = append(report.Installed, c.ID())
		return true
	}

	if target != nil {
		install(target)

		ancestor := target.Parent()
		var top Context
		for level := 0; ancestor != nil; level++ {
			if level < r.depth {
				install(ancestor)
			}
			top = ancestor
			ancestor = ancestor.Parent()
		}
		install(top)

		queue := target.Children()
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			// children of a refused context are not reachable
			if install(next) {
				queue = append(queue, next.Children()...)
			}
		}
	}

	r.published = true
	return report
}

// Lookup performs the standard SCORM discovery walk from c: the context
// itself, then each ancestor up to maxDepth levels.
func Lookup(c Context, maxDepth int) (*Runtime, bool) {
	for level := 0; c != nil && level <= maxDepth; level++ {
		if rt := c.Runtime(); rt != nil {
			return rt, true
		}
		c = c.Parent()
	}
	return nil, false
}
