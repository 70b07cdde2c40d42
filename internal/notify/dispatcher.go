package notify

import (
	"context"
)

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Logger is the logging surface the dispatcher needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Dispatcher fans every event out to its sinks in registration order.
//
// Publishing is fire-and-forget: a sink that fails is logged and the
// remaining sinks still receive the event. Nothing is retried.
//
// Thread Safety: safe for concurrent use once constructed.
type Dispatcher struct {
	sinks  []Sink
	logger Logger
}

// NewDispatcher creates a dispatcher over sinks. A nil logger discards.
func NewDispatcher(logger Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Publish delivers ev to every sink.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, ev); err != nil {
			d.logger.Warn("event delivery failed",
				"sink", sink.Name(),
				"event", ev.Event,
				"tenant", ev.Tenant(),
				"entity_id", ev.EntityID,
				"error", err,
			)
			continue
		}
		d.logger.Debug("event delivered",
			"sink", sink.Name(),
			"event", ev.Event,
			"tenant", ev.Tenant(),
		)
	}
}
