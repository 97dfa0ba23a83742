package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
)

// EventsChannel is the broadcast topic progress events go to
const EventsChannel = "evals"

const publishTimeout = 2 * time.Second

// EventStatus of a progress event
type EventStatus string

const (
	EventStart EventStatus = "start"
	EventDone  EventStatus = "done"
	EventError EventStatus = "error"
)

// Event is the progress envelope published for every step transition
type Event struct {
	Type   string       `json:"type"`
	Step   string       `json:"step"`
	Status EventStatus  `json:"status"`
	JobID  audits.JobID `json:"job_id"`
}

// eventPublisher sends progress events on a best-effort basis. Nothing it
// does can change the outcome of the step that triggered it.
type eventPublisher struct {
	pub     audits.EventPublisher
	enabled bool
	jobID   audits.JobID
	log     *zap.Logger
}

func newEventPublisher(pub audits.EventPublisher, enabled bool, jobID audits.JobID, log *zap.Logger) *eventPublisher {
	return &eventPublisher{pub: pub, enabled: enabled && pub != nil, jobID: jobID, log: log}
}

func (e *eventPublisher) publish(ctx context.Context, step string, status EventStatus) {
	if !e.enabled {
		return
	}
	if err := e.guarded(ctx, step, status); err != nil {
		e.log.Debug("progress event dropped",
			zap.String("job_id", string(e.jobID)),
			zap.String("step", step),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (e *eventPublisher) guarded(ctx context.Context, step string, status EventStatus) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	payload, err := json.Marshal(Event{Type: "eval", Step: step, Status: status, JobID: e.jobID})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return e.pub.Publish(ctx, EventsChannel, payload)
}
