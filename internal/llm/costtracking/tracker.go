package costtracking

import (
	"context"
	"log/slog"

	"github.com/ahrav/go-grader/pkg/events"
)

// EventCostRecorded is the envelope type carrying a cost entry.
const EventCostRecorded = "cost.recorded"

const eventSource = "llm-client"

type costEvent struct {
	Context CostContext `json:"context"`
	Data    CostData    `json:"data"`
}

// Tracker publishes cost events for asynchronous persistence and falls back
// to a direct Record when publication fails. A fallback after a publish that
// actually reached the broker can produce a duplicate entry; that is
// preferred to losing one.
type Tracker struct {
	sink     events.EventSink
	recorder *Recorder
	logger   *slog.Logger
}

// NewTracker wires sink to recorder. A nil sink records synchronously.
func NewTracker(sink events.EventSink, recorder *Recorder) *Tracker {
	return &Tracker{
		sink:     sink,
		recorder: recorder,
		logger:   slog.Default().With("component", "cost_tracker"),
	}
}

// Recorder returns the underlying recorder.
func (t *Tracker) Recorder() *Recorder { return t.recorder }

// Track persists data under cc through the event sink or, failing that, directly.
func (t *Tracker) Track(ctx context.Context, data CostData, cc CostContext) {
	if t.sink == nil {
		t.recorder.Record(ctx, data, cc)
		return
	}

	env, err := events.NewEnvelope(EventCostRecorded, eventSource, cc.ID, costEvent{Context: cc, Data: data})
	if err == nil {
		env.CorrelationID = data.RequestID
		err = t.sink.Append(ctx, env)
	}
	if err != nil {
		fallbackRecords.Inc()
		t.logger.Warn("cost event publish failed, recording directly",
			"request_id", data.RequestID,
			"error", err)
		t.recorder.Record(ctx, data, cc)
	}
}

// Handler persists cost events on the consumer side.
func (t *Tracker) Handler() events.Handler {
	return func(ctx context.Context, env events.Envelope) error {
		var ev costEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		t.recorder.Record(ctx, ev.Data, ev.Context)
		return nil
	}
}
