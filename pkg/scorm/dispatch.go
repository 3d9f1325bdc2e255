package scorm

import (
	"fmt"
)

// Call invokes an API method by name, as received from the content-side
// bridge. Missing arguments are treated as empty strings.
func (rt *Runtime) Call(version, method string, args []string) (string, error) {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch version {
	case Version12:
		api := rt.API12
		switch method {
		case "LMSInitialize":
			return api.LMSInitialize(arg(0)), nil
		case "LMSFinish":
			return api.LMSFinish(arg(0)), nil
		case "LMSGetValue":
			return api.LMSGetValue(arg(0)), nil
		case "LMSSetValue":
			return api.LMSSetValue(arg(0), arg(1)), nil
		case "LMSCommit":
			return api.LMSCommit(arg(0)), nil
		case "LMSGetLastError":
			return api.LMSGetLastError(), nil
		case "LMSGetErrorString":
			return api.LMSGetErrorString(arg(0)), nil
		case "LMSGetDiagnostic":
			return api.LMSGetDiagnostic(arg(0)), nil
		}
	case Version2004:
		api := rt.API2004
		switch method {
		case "Initialize":
			return api.Initialize(arg(0)), nil
		case "Terminate":
			return api.Terminate(arg(0)), nil
		case "GetValue":
			return api.GetValue(arg(0)), nil
		case "SetValue":
			return api.SetValue(arg(0), arg(1)), nil
		case "Commit":
			return api.Commit(arg(0)), nil
		case "GetLastError":
			return api.GetLastError(), nil
		case "GetErrorString":
			return api.GetErrorString(arg(0)), nil
		case "GetDiagnostic":
			return api.GetDiagnostic(arg(0)), nil
		}
	default:
		return "", fmt.Errorf("unknown runtime version %q", version)
	}
	return "", fmt.Errorf("unknown %s method %q", version, method)
}

// Status is the completion report sent to content and host.
type Status struct {
	Completion string `json:"completion"`
	Success    string `json:"success"`
	Version    string `json:"version"`
}

// Status reports completion and success for version. SCORM 2004 keeps the two
// separately; SCORM 1.2 derives both from cmi.core.lesson_status.
func (rt *Runtime) Status(version string) Status {
	if version == Version2004 {
		completion, _ := rt.state.Get("cmi.completion_status")
		success, _ := rt.state.Get("cmi.success_status")
		return Status{Completion: completion, Success: success, Version: version}
	}
	lesson, _ := rt.state.Get("cmi.core.lesson_status")
	completion, success := split12Status(lesson)
	return Status{Completion: completion, Success: success, Version: Version12}
}

func split12Status(lesson string) (completion, success string) {
	switch lesson {
	case "passed":
		return "completed", "passed"
	case "failed":
		return "completed", "failed"
	case "completed":
		return "completed", "unknown"
	case "incomplete", "browsed":
		return "incomplete", "unknown"
	case "not attempted", "":
		return "not attempted", "unknown"
	default:
		return lesson, "unknown"
	}
}
