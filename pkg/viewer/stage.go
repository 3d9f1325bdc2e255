package viewer

import "github.com/odvcencio/scormview/pkg/errors"

// Stage is the load stage of a viewing session.
type Stage string

const (
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
	StageLoading     Stage = "loading"
	StageComplete    Stage = "complete"
	StageError       Stage = "error"
)

// complete -> loading is a surface reload; everything else moves forward.
var transitions = map[Stage][]Stage{
	StageDownloading: {StageExtracting, StageError},
	StageExtracting:  {StageLoading, StageError},
	StageLoading:     {StageComplete, StageError},
	StageComplete:    {StageLoading, StageError},
}

// CanTransition reports whether from -> to is a legal stage change.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return len(transitions[s]) == 0
}

func invalidTransition(from, to Stage) error {
	return errors.New(errors.ErrCodeInvalidStage, "invalid stage transition").
		WithContext("from", string(from)).
		WithContext("to", string(to))
}
