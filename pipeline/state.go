// Package pipeline implements the three request pipelines named in §4.5-§4.7:
// the hidden write pipeline, the hidden read pipeline, and the public write
// pipeline that preserves or reclaims hidden carriers as ordinary public
// sectors change underneath them.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkiranp/pd-linux/log"
	"github.com/sandeepkiranp/pd-linux/metrics"
)

// stage names one state of the §9 per-request state machine. A real
// completion-queue submission layer would drive these transitions from I/O
// completion callbacks; since this module's device collaborator is a
// synchronous call per §1, the pipelines themselves advance the state
// machine inline, stage by stage, timing and logging each transition the
// same way a callback-driven version would.
type stage string

const (
	stagePreRead stage = "pre_read"
	stageSplice  stage = "splice"
	stageEncrypt stage = "encrypt"
	stageSubmit  stage = "submit"
	stageDone    stage = "done"
	stageError   stage = "error"
)

// requestState tracks one in-flight pipeline request's current stage, for
// logging and for the per-stage duration histogram.
type requestState struct {
	id         uuid.UUID
	stage      stage
	stageStart time.Time
	metrics    *metrics.Metrics
	logger     log.Logger
}

func newRequestState(logger log.Logger, m *metrics.Metrics) *requestState {
	return &requestState{
		id:         uuid.New(),
		stage:      stagePreRead,
		stageStart: time.Now(),
		metrics:    m,
		logger:     logger,
	}
}

// advance closes out the current stage (recording its duration) and opens
// the next one.
func (r *requestState) advance(next stage) {
	elapsed := time.Since(r.stageStart)
	if r.metrics != nil {
		r.metrics.ObserveStage(string(r.stage), elapsed)
	}
	if r.logger != nil {
		r.logger.Debugw("pipeline stage transition",
			"request_id", r.id.String(), "from", string(r.stage), "to", string(next))
	}
	r.stage = next
	r.stageStart = time.Now()
}

// fail transitions into the terminal Error stage and logs the failure.
func (r *requestState) fail(err error) {
	r.advance(stageError)
	if r.logger != nil {
		r.logger.Errorw("pipeline request failed", "request_id", r.id.String(), "err", err)
	}
}

// done transitions into the terminal Done stage, closing out whatever stage
// the request was last in.
func (r *requestState) done() {
	r.advance(stageDone)
}
