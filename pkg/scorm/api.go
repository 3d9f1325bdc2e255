package scorm

import (
	"strings"
	"sync"

	"github.com/odvcencio/scormview/pkg/observability"
)

// Boolean results use the SCORM string convention.
const (
	True  = "true"
	False = "false"
)

// Error codes. Numbers shared by both generations are declared once.
const (
	ErrNone               = "0"
	ErrGeneral            = "101"
	ErrAlreadyInitialized = "103"
	ErrTerminated         = "104"
	ErrTermBeforeInit     = "112"
	ErrTermAfterTerm      = "113"
	ErrRetrieveBeforeInit = "122"
	ErrRetrieveAfterTerm  = "123"
	ErrStoreBeforeInit    = "132"
	ErrStoreAfterTerm     = "133"
	ErrCommitBeforeInit   = "142"
	ErrCommitAfterTerm    = "143"
	ErrInvalidArgument    = "201"
	ErrNotInitialized     = "301"
	ErrGeneralSetFailure  = "351"
	ErrUndefinedElement   = "401"
)

var errorStrings12 = map[string]string{
	ErrNone:             "No error",
	ErrGeneral:          "General exception",
	ErrInvalidArgument:  "Invalid argument error",
	ErrNotInitialized:   "Not initialized",
	ErrUndefinedElement: "Not implemented error",
}

var errorStrings2004 = map[string]string{
	ErrNone:               "No error",
	ErrGeneral:            "General exception",
	ErrAlreadyInitialized: "Already initialized",
	ErrTerminated:         "Content instance terminated",
	ErrTermBeforeInit:     "Termination before initialization",
	ErrTermAfterTerm:      "Termination after termination",
	ErrRetrieveBeforeInit: "Retrieve data before initialization",
	ErrRetrieveAfterTerm:  "Retrieve data after termination",
	ErrStoreBeforeInit:    "Store data before initialization",
	ErrStoreAfterTerm:     "Store data after termination",
	ErrCommitBeforeInit:   "Commit before initialization",
	ErrCommitAfterTerm:    "Commit after termination",
	ErrInvalidArgument:    "General argument error",
	ErrGeneralSetFailure:  "General set failure",
	ErrUndefinedElement:   "Undefined data model element",
}

// Runtime versions as used in metrics and snapshots.
const (
	Version12   = "1.2"
	Version2004 = "2004"
)

// Options configures a Runtime.
type Options struct {
	// StrictErrors enables lifecycle checks and real error codes. When off,
	// every call succeeds and the error accessors always report no error.
	StrictErrors bool
	Learner      Learner
}

// Runtime owns the session state and both API surfaces.
type Runtime struct {
	state *State
	opts  Options

	mu          sync.Mutex
	initialized bool
	terminated  bool
	lastError   string
	hooks       []func(Snapshot)

	API12   *API12
	API2004 *API2004
}

// NewRuntime creates a runtime with fresh state.
func NewRuntime(opts Options) *Runtime {
	if opts.Learner.ID == "" {
		opts.Learner.ID = "learner"
	}
	if opts.Learner.Name == "" {
		opts.Learner.Name = "Learner"
	}
	rt := &Runtime{
		state:     NewState(opts.Learner),
		opts:      opts,
		lastError: ErrNone,
	}
	rt.API12 = &API12{rt: rt}
	rt.API2004 = &API2004{rt: rt}
	return rt
}

// State exposes the session state.
func (rt *Runtime) State() *State {
	return rt.state
}

// OnCommit registers fn to receive a snapshot on every commit and finish.
func (rt *Runtime) OnCommit(fn func(Snapshot)) {
	rt.mu.Lock()
	rt.hooks = append(rt.hooks, fn)
	rt.mu.Unlock()
}

func (rt *Runtime) fail(code string) string {
	rt.lastError = code
	return False
}

// lifecycleError returns the error code for op given the current lifecycle,
// or "" when op may proceed. Only consulted in strict mode.
func (rt *Runtime) lifecycleError(version, op string) string {
	if version == Version12 {
		if !rt.initialized && op != "initialize" {
			return ErrNotInitialized
		}
		return ""
	}
	switch op {
	case "initialize":
		if rt.terminated {
			return ErrTerminated
		}
		if rt.initialized {
			return ErrAlreadyInitialized
		}
	case "terminate":
		if !rt.initialized {
			return ErrTermBeforeInit
		}
		if rt.terminated {
			return ErrTermAfterTerm
		}
	case "get":
		if !rt.initialized {
			return ErrRetrieveBeforeInit
		}
		if rt.terminated {
			return ErrRetrieveAfterTerm
		}
	case "set":
		if !rt.initialized {
			return ErrStoreBeforeInit
		}
		if rt.terminated {
			return ErrStoreAfterTerm
		}
	case "commit":
		if !rt.initialized {
			return ErrCommitBeforeInit
		}
		if rt.terminated {
			return ErrCommitAfterTerm
		}
	}
	return ""
}

func (rt *Runtime) initialize(version string) string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	observability.RuntimeCalls.WithLabelValues(version, "initialize").Inc()
	if rt.opts.StrictErrors {
		if code := rt.lifecycleError(version, "initialize"); code != "" {
			return rt.fail(code)
		}
	}
	rt.initialized = true
	rt.lastError = ErrNone
	return True
}

func (rt *Runtime) terminate(version string) string {
	rt.mu.Lock()
	observability.RuntimeCalls.WithLabelValues(version, "terminate").Inc()
	if rt.opts.StrictErrors {
		if code := rt.lifecycleError(version, "terminate"); code != "" {
			defer rt.mu.Unlock()
			return rt.fail(code)
		}
	}
	rt.terminated = true
	rt.lastError = ErrNone
	hooks := append([]func(Snapshot){}, rt.hooks...)
	rt.mu.Unlock()

	rt.notify(hooks, "finish", version)
	return True
}

func (rt *Runtime) getValue(version, element string) string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	observability.RuntimeCalls.WithLabelValues(version, "get").Inc()
	element = strings.TrimSpace(element)
	if rt.opts.StrictErrors {
		if code := rt.lifecycleError(version, "get"); code != "" {
			rt.fail(code)
			return ""
		}
		if element == "" {
			rt.fail(ErrInvalidArgument)
			return ""
		}
	}
	v, ok := rt.state.Get(element)
	if !ok && rt.opts.StrictErrors {
		if version == Version12 {
			rt.fail(ErrInvalidArgument)
		} else {
			rt.fail(ErrUndefinedElement)
		}
		return ""
	}
	rt.lastError = ErrNone
	return v
}

func (rt *Runtime) setValue(version, element, value string) string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	observability.RuntimeCalls.WithLabelValues(version, "set").Inc()
	element = strings.TrimSpace(element)
	if rt.opts.StrictErrors {
		if code := rt.lifecycleError(version, "set"); code != "" {
			return rt.fail(code)
		}
	}
	persisted := rt.state.Set(element, value)
	if !persisted && rt.opts.StrictErrors {
		if version == Version12 {
			return rt.fail(ErrInvalidArgument)
		}
		return rt.fail(ErrGeneralSetFailure)
	}
	rt.lastError = ErrNone
	return True
}

func (rt *Runtime) commit(version string) string {
	rt.mu.Lock()
	observability.RuntimeCalls.WithLabelValues(version, "commit").Inc()
	if rt.opts.StrictErrors {
		if code := rt.lifecycleError(version, "commit"); code != "" {
			defer rt.mu.Unlock()
			return rt.fail(code)
		}
	}
	rt.lastError = ErrNone
	hooks := append([]func(Snapshot){}, rt.hooks...)
	rt.mu.Unlock()

	rt.notify(hooks, "commit", version)
	return True
}

// Commit flushes the state to commit hooks regardless of lifecycle. Used by
// the host when it commits on the content's behalf.
func (rt *Runtime) Commit(reason string) Snapshot {
	rt.mu.Lock()
	hooks := append([]func(Snapshot){}, rt.hooks...)
	rt.mu.Unlock()
	return rt.notify(hooks, reason, "")
}

// RequestNavigation records a navigation request on the content's behalf,
// regardless of lifecycle.
func (rt *Runtime) RequestNavigation(request string) {
	rt.state.Set(NavRequestElement, request)
}

func (rt *Runtime) notify(hooks []func(Snapshot), reason, version string) Snapshot {
	snap := rt.state.Snapshot(reason)
	snap.Version = version
	for _, fn := range hooks {
		fn(snap)
	}
	return snap
}

func (rt *Runtime) lastErrorCode() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.opts.StrictErrors {
		return ErrNone
	}
	return rt.lastError
}

func (rt *Runtime) errorString(version, code string) string {
	table := errorStrings2004
	if version == Version12 {
		table = errorStrings12
	}
	if !rt.opts.StrictErrors {
		return table[ErrNone]
	}
	return table[strings.TrimSpace(code)]
}

func (rt *Runtime) diagnostic(version, code string) string {
	if strings.TrimSpace(code) == "" {
		code = rt.lastErrorCode()
	}
	return rt.errorString(version, code)
}

// Initialized reports whether content called Initialize/LMSInitialize.
func (rt *Runtime) Initialized() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.initialized
}

// API12 is the SCORM 1.2 surface (window.API).
type API12 struct {
	rt *Runtime
}

func (a *API12) LMSInitialize(string) string { return a.rt.initialize(Version12) }

func (a *API12) LMSFinish(string) string { return a.rt.terminate(Version12) }

func (a *API12) LMSGetValue(element string) string { return a.rt.getValue(Version12, element) }

func (a *API12) LMSSetValue(element, value string) string {
	return a.rt.setValue(Version12, element, value)
}

func (a *API12) LMSCommit(string) string { return a.rt.commit(Version12) }

func (a *API12) LMSGetLastError() string { return a.rt.lastErrorCode() }

func (a *API12) LMSGetErrorString(code string) string { return a.rt.errorString(Version12, code) }

func (a *API12) LMSGetDiagnostic(code string) string { return a.rt.diagnostic(Version12, code) }

// API2004 is the SCORM 2004 surface (window.API_1484_11). Get and set share
// the runtime logic used by API12.
type API2004 struct {
	rt *Runtime
}

func (a *API2004) Initialize(string) string { return a.rt.initialize(Version2004) }

func (a *API2004) Terminate(string) string { return a.rt.terminate(Version2004) }

func (a *API2004) GetValue(element string) string { return a.rt.getValue(Version2004, element) }

func (a *API2004) SetValue(element, value string) string {
	return a.rt.setValue(Version2004, element, value)
}

func (a *API2004) Commit(string) string { return a.rt.commit(Version2004) }

func (a *API2004) GetLastError() string { return a.rt.lastErrorCode() }

func (a *API2004) GetErrorString(code string) string { return a.rt.errorString(Version2004, code) }

func (a *API2004) GetDiagnostic(code string) string { return a.rt.diagnostic(Version2004, code) }
