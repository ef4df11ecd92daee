package ws

import (
	"context"
	"log/slog"

	"github.com/finthenticate/server/internal/domain"
)

// Router drains the event subscription and routes each event to its
// connection. Events naming a connection go to that connection only; events
// without one are broadcast when their kind permits it and dropped
// otherwise. A stale connection id is logged and dropped, never retried.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	return &Router{registry: registry, logger: logger}
}

// Run consumes events until the channel closes or ctx is cancelled.
func (rt *Router) Run(ctx context.Context, events <-chan *domain.AuthEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			rt.route(ev)
		}
	}
}

func (rt *Router) route(ev *domain.AuthEvent) {
	frame := Frame{Event: ev.Type, Data: ev.Data}

	if ev.ConnectionID != "" {
		if !rt.registry.Send(ev.ConnectionID, frame) {
			rt.logger.Warn("dropping event for unknown connection",
				"type", ev.Type, "connectionId", ev.ConnectionID)
		}
		return
	}

	if !ev.Broadcastable() {
		rt.logger.Warn("dropping untargeted event", "type", ev.Type)
		return
	}
	rt.registry.Broadcast(frame)
}
