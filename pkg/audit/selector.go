package audit

import (
	"github.com/platinummonkey/audittrail/pkg/observability"
)

// BaselineName is the registry name of the baseline recorder
const BaselineName = "baseline"

type candidate struct {
	name     string
	recorder Recorder
}

// RecorderRegistry picks the active Recorder among registered candidates.
// It is populated at bootstrap and read-only afterwards.
type RecorderRegistry struct {
	baseline   Recorder
	candidates []candidate
	logger     *observability.Logger
}

// NewRecorderRegistry creates a registry. A nil baseline uses VoidRecorder.
func NewRecorderRegistry(baseline Recorder, logger *observability.Logger) *RecorderRegistry {
	if baseline == nil {
		baseline = VoidRecorder{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RecorderRegistry{baseline: baseline, logger: logger}
}

// Register adds a candidate. Registration order breaks priority ties.
func (r *RecorderRegistry) Register(name string, recorder Recorder) {
	r.candidates = append(r.candidates, candidate{name: name, recorder: recorder})
}

// Resolve returns the candidate with the strictly greatest priority, or the
// baseline when no candidate beats it.
func (r *RecorderRegistry) Resolve() Recorder {
	name, recorder := r.resolve()
	r.logger.WithFields(map[string]interface{}{
		"recorder": name,
		"priority": recorder.DefaultPriority(),
	}).Info("audit recorder selected")
	return recorder
}

// Active returns the name of the recorder Resolve would return
func (r *RecorderRegistry) Active() string {
	name, _ := r.resolve()
	return name
}

func (r *RecorderRegistry) resolve() (string, Recorder) {
	bestName, best := BaselineName, r.baseline
	top := r.baseline.DefaultPriority()
	for _, c := range r.candidates {
		if p := c.recorder.DefaultPriority(); p > top {
			top = p
			bestName, best = c.name, c.recorder
		}
	}
	return bestName, best
}
