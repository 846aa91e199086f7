// Package events is the vault's explicit publish/subscribe bus.
//
// A Bus is constructed once by the owner of the vault and handed to every
// component that publishes or subscribes. There is no package-level
// registry.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic names an event stream.
type Topic string

const (
	TopicCredentialsStored  Topic = "credentials.stored"
	TopicConversationStored Topic = "conversation.stored"
	TopicUserDataStored     Topic = "userdata.stored"
	TopicTokenStored        Topic = "token.stored"
	TopicFileSaved          Topic = "file.saved"
	TopicVaultWiped         Topic = "vault.wiped"
	TopicWipeRefused        Topic = "vault.wipe_refused"

	// TopicAll subscribes to every topic.
	TopicAll Topic = "*"
)

// Event is a notification. Attrs carry identifiers only, never values.
type Event struct {
	ID    string            `json:"id"`
	Topic Topic             `json:"topic"`
	Time  time.Time         `json:"time"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Handler receives events. Handlers run synchronously on the publishing
// goroutine and must not block for long.
type Handler func(Event)

// Bus fans events out to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic]map[string]Handler // topic -> subID -> handler
	logger   *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Topic]map[string]Handler),
		logger:   logger.With("component", "events"),
	}
}

// Subscribe registers h for topic and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	subID := uuid.NewString()

	b.mu.Lock()
	if _, ok := b.handlers[topic]; !ok {
		b.handlers[topic] = make(map[string]Handler)
	}
	b.handlers[topic][subID] = h
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[topic], subID)
			if len(b.handlers[topic]) == 0 {
				delete(b.handlers, topic)
			}
		})
	}
}

// Publish delivers an event on topic to its subscribers and to TopicAll
// subscribers, then returns the delivered event. A panicking handler is
// logged and does not affect the others.
func (b *Bus) Publish(topic Topic, attrs map[string]string) Event {
	ev := Event{
		ID:    newID(),
		Topic: topic,
		Time:  time.Now().UTC(),
		Attrs: attrs,
	}

	// Copy handlers under read lock so handlers may (un)subscribe.
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[topic])+len(b.handlers[TopicAll]))
	for _, h := range b.handlers[topic] {
		targets = append(targets, h)
	}
	if topic != TopicAll {
		for _, h := range b.handlers[TopicAll] {
			targets = append(targets, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		b.deliver(h, ev)
	}
	return ev
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "topic", ev.Topic, "event_id", ev.ID, "panic", r)
		}
	}()
	h(ev)
}

// SubscriberCount returns the number of handlers registered for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// newID returns a time-ordered event id.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
