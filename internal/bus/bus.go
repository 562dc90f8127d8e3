// Package bus implements the in-process message bus that decouples the
// sync pipeline components: a broadcast table for one-to-many lifecycle
// signals and a unicast table for one-to-one request/reply topics.
package bus

import (
	"log/slog"
	"sync"

	"github.com/vitaliisemenov/filesync/internal/core"
)

// Topic identifies a routing key on either table.
type Topic string

// Topics used by the daemon.
const (
	// TopicSignal is the broadcast lifecycle topic; every singleton
	// component subscribes to it.
	TopicSignal Topic = "SIGNAL"

	// TopicWatcherEvents is the unicast fetch topic; its reply is the
	// live event buffer the master drains in place.
	TopicWatcherEvents Topic = "watcher.events"

	// TopicWatcherHeartbeat replies true while the watcher subprocess
	// is alive.
	TopicWatcherHeartbeat Topic = "watcher.heartbeat"

	// TopicReloadRequest asks the lifecycle controller to reload.
	TopicReloadRequest Topic = "daemon.reload"

	// TopicStopRequest asks the lifecycle controller to stop.
	TopicStopRequest Topic = "daemon.stop"
)

// Lifecycle signal payloads carried on TopicSignal.
const (
	SignalStart  = "start"
	SignalStop   = "stop"
	SignalPause  = "pause"
	SignalResume = "resume"
	SignalReload = "reload"
	SignalStatus = "status"
)

// Handler is a broadcast callback. Broadcast handlers have no reply.
type Handler func(payload any)

// ReplyHandler is a unicast callback; its return value is the reply.
type ReplyHandler func(payload any) any

// Subscriber is a named broadcast registration. The table keys handlers
// by (topic, name), so re-registering the same name replaces the handler.
type Subscriber struct {
	Name    string
	Handler Handler
}

// Bus owns the two routing tables. Notifications and sends run on the
// caller's goroutine; the bus starts none of its own.
type Bus struct {
	logger *slog.Logger

	mu        sync.Mutex
	broadcast map[Topic]map[string]Handler
	unicast   map[Topic]ReplyHandler
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger:    logger,
		broadcast: make(map[Topic]map[string]Handler),
		unicast:   make(map[Topic]ReplyHandler),
	}
}

// Register inserts or replaces the subscriber on a broadcast topic.
func (b *Bus) Register(topic Topic, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.broadcast[topic]
	if !ok {
		subs = make(map[string]Handler)
		b.broadcast[topic] = subs
	}
	subs[sub.Name] = sub.Handler
}

// Unregister removes the subscriber if present; absent is not an error.
func (b *Bus) Unregister(topic Topic, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.broadcast[topic], name)
}

// Notify invokes every handler registered on the topic, in unspecified
// order, on the caller's goroutine. A panicking handler is logged and
// swallowed so the iteration continues.
func (b *Bus) Notify(topic Topic, payload any) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.broadcast[topic]))
	names := make([]string, 0, len(b.broadcast[topic]))
	for name, h := range b.broadcast[topic] {
		handlers = append(handlers, h)
		names = append(names, name)
	}
	b.mu.Unlock()

	for i, h := range handlers {
		b.dispatch(topic, names[i], h, payload)
	}
}

func (b *Bus) dispatch(topic Topic, name string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panic",
				"topic", string(topic), "subscriber", name, "panic", r)
		}
	}()
	h(payload)
}

// Bind sets the single handler for a unicast topic, replacing any prior
// binding.
func (b *Bus) Bind(topic Topic, h ReplyHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unicast[topic] = h
}

// Unbind removes the unicast handler if present.
func (b *Bus) Unbind(topic Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.unicast, topic)
}

// Send invokes the unicast handler bound to the topic and returns its
// reply. An unbound topic yields ErrNoBinding with a nil reply.
func (b *Bus) Send(topic Topic, payload any) (any, error) {
	b.mu.Lock()
	h, ok := b.unicast[topic]
	b.mu.Unlock()
	if !ok {
		return nil, core.ErrNoBinding
	}
	return h(payload), nil
}
