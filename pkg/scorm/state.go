// Package scorm implements an in-memory SCORM 1.2 and 2004 runtime.
package scorm

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// listNames are data model collections addressed as name.N.field.
var listNames = map[string]bool{
	"interactions":          true,
	"objectives":            true,
	"correct_responses":     true,
	"comments_from_learner": true,
	"comments_from_lms":     true,
}

var writable12 = map[string]bool{
	"cmi.core.score.raw":       true,
	"cmi.core.score.min":       true,
	"cmi.core.score.max":       true,
	"cmi.core.lesson_status":   true,
	"cmi.core.lesson_location": true,
	"cmi.core.session_time":    true,
	"cmi.core.exit":            true,
	"cmi.suspend_data":         true,
	"cmi.comments":             true,
}

// NavRequestElement carries the SCORM 2004 navigation request.
const NavRequestElement = "adl.nav.request"

var writable2004 = map[string]bool{
	"cmi.score.raw":         true,
	"cmi.score.min":         true,
	"cmi.score.max":         true,
	"cmi.score.scaled":      true,
	"cmi.completion_status": true,
	"cmi.success_status":    true,
	"cmi.location":          true,
	"cmi.session_time":      true,
	"cmi.exit":              true,
	"cmi.suspend_data":      true,
	"cmi.progress_measure":  true,
	NavRequestElement:       true,
}

var writableLists = []string{"cmi.interactions.", "cmi.objectives.", "cmi.comments_from_learner."}

// Learner identifies who the session runs for.
type Learner struct {
	ID   string
	Name string
}

func initialValues(learner Learner) map[string]string {
	return map[string]string{
		// SCORM 1.2
		"cmi.core._children":       "student_id,student_name,lesson_location,credit,lesson_status,entry,score,total_time,lesson_mode,exit,session_time",
		"cmi.core.student_id":      learner.ID,
		"cmi.core.student_name":    learner.Name,
		"cmi.core.lesson_location": "",
		"cmi.core.credit":          "credit",
		"cmi.core.lesson_status":   "not attempted",
		"cmi.core.entry":           "ab-initio",
		"cmi.core.score._children": "raw,min,max",
		"cmi.core.score.raw":       "",
		"cmi.core.score.min":       "",
		"cmi.core.score.max":       "",
		"cmi.core.total_time":      "0000:00:00.00",
		"cmi.core.lesson_mode":     "normal",
		"cmi.core.exit":            "",
		"cmi.core.session_time":    "",
		"cmi.suspend_data":         "",
		"cmi.launch_data":          "",
		"cmi.comments":             "",

		// SCORM 2004
		"cmi._version":                        "1.0",
		"cmi.learner_id":                      learner.ID,
		"cmi.learner_name":                    learner.Name,
		"cmi.location":                        "",
		"cmi.credit":                          "credit",
		"cmi.completion_status":               "unknown",
		"cmi.success_status":                  "unknown",
		"cmi.entry":                           "ab-initio",
		"cmi.mode":                            "normal",
		"cmi.score._children":                 "scaled,raw,min,max",
		"cmi.score.scaled":                    "",
		"cmi.score.raw":                       "",
		"cmi.score.min":                       "",
		"cmi.score.max":                       "",
		"cmi.total_time":                      "PT0H0M0S",
		"cmi.session_time":                    "",
		"cmi.exit":                            "",
		"cmi.progress_measure":                "",
		"cmi.interactions._children":          "id,type,objectives,timestamp,correct_responses,weighting,learner_response,result,latency,description",
		"cmi.objectives._children":            "id,score,success_status,completion_status,progress_measure,description",
		"cmi.comments_from_learner._children": "comment,location,timestamp",
	}
}

// State is the data model tree of one viewing session, stored flat by dot
// path. Collection sizes are tracked per collection prefix.
type State struct {
	mu     sync.RWMutex
	values map[string]string
	counts map[string]int
}

// NewState returns a state initialised with default 1.2 and 2004 values.
func NewState(learner Learner) *State {
	return &State{
		values: initialValues(learner),
		counts: make(map[string]int),
	}
}

// Get resolves a dot path. Missing elements yield "". A trailing _count
// segment yields the collection size.
func (s *State) Get(element string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if prefix, ok := strings.CutSuffix(element, "._count"); ok {
		if !isCollection(prefix) {
			return "", false
		}
		return strconv.Itoa(s.counts[prefix]), true
	}
	v, ok := s.values[element]
	return v, ok
}

// IsWritable reports whether element is persisted on set.
func IsWritable(element string) bool {
	if writable12[element] || writable2004[element] {
		return true
	}
	for _, prefix := range writableLists {
		if strings.HasPrefix(element, prefix) && !strings.HasSuffix(element, "._count") && !strings.HasSuffix(element, "._children") {
			return true
		}
	}
	return false
}

// Set stores value when element is writable and any collection indexes are
// in range (an index equal to the current size appends). It reports whether
// the value was persisted.
func (s *State) Set(element, value string) bool {
	if !IsWritable(element) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	grow, ok := s.collectionIndexes(element)
	if !ok {
		return false
	}
	for prefix, size := range grow {
		s.counts[prefix] = size
	}
	s.values[element] = value
	return true
}

// collectionIndexes validates every name.N pair in element and returns the
// new sizes of collections that grow.
func (s *State) collectionIndexes(element string) (map[string]int, bool) {
	parts := strings.Split(element, ".")
	grow := map[string]int{}
	for i := 0; i < len(parts)-1; i++ {
		if !listNames[parts[i]] {
			continue
		}
		idx, err := strconv.Atoi(parts[i+1])
		if err != nil || idx < 0 {
			return nil, false
		}
		prefix := strings.Join(parts[:i+1], ".")
		size, pending := grow[prefix]
		if !pending {
			size = s.counts[prefix]
		}
		switch {
		case idx < size:
		case idx == size:
			grow[prefix] = size + 1
		default:
			return nil, false
		}
		// a field after the index is required
		if i+2 >= len(parts) {
			return nil, false
		}
	}
	return grow, true
}

func isCollection(prefix string) bool {
	parts := strings.Split(prefix, ".")
	return len(parts) > 0 && listNames[parts[len(parts)-1]]
}

// Snapshot is a point-in-time copy of the state, taken on commit.
type Snapshot struct {
	Values    map[string]string `json:"values"`
	Counts    map[string]int    `json:"counts"`
	TakenAt   time.Time         `json:"taken_at"`
	Reason    string            `json:"reason"`
	Version   string            `json:"version,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
}

// Snapshot deep-copies the current state.
func (s *State) Snapshot(reason string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make(map[string]string, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	counts := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	return Snapshot{Values: values, Counts: counts, TakenAt: time.Now().UTC(), Reason: reason}
}

// Elements lists every stored element path, sorted.
func (s *State) Elements() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
