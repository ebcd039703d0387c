// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that processes events.
type Handler func(event *Event)

// subscription pairs a handler with its registration metadata.
type subscription struct {
	id      string
	handler Handler
	types   []Type
}

// Emitter broadcasts events to subscribers in registration (FIFO) order.
//
// Description:
//
//	Subscribers are invoked synchronously so that delivery order matches
//	operation order. Each invocation is wrapped in panic recovery: one
//	misbehaving subscriber cannot abort the core operation that emitted
//	the event or prevent later subscribers from seeing it.
//
// Thread Safety: Safe for concurrent use.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions []*subscription
}

// NewEmitter creates a new event emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe registers a handler for events.
//
// Inputs:
//
//	handler - Function to call for each event.
//	types - Event types to subscribe to (none = all types).
//
// Outputs:
//
//	string - Subscription ID for unsubscribing.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &subscription{
		id:      uuid.NewString(),
		handler: handler,
		types:   types,
	}
	e.subscriptions = append(e.subscriptions, sub)
	return sub.id
}

// Unsubscribe removes a subscription.
//
// Outputs:
//
//	bool - True if the subscription was found and removed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, sub := range e.subscriptions {
		if sub.id == id {
			e.subscriptions = append(e.subscriptions[:i], e.subscriptions[i+1:]...)
			return true
		}
	}
	return false
}

// Emit broadcasts an event to all matching subscribers in registration
// order. Returns after every subscriber has been invoked.
func (e *Emitter) Emit(eventType Type, data any) {
	e.mu.RLock()
	subs := make([]*subscription, len(e.subscriptions))
	copy(subs, e.subscriptions)
	e.mu.RUnlock()

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	for _, sub := range subs {
		if sub.matches(eventType) {
			safeInvoke(sub.handler, &event)
		}
	}
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}

func (s *subscription) matches(eventType Type) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, t := range s.types {
		if t == eventType {
			return true
		}
	}
	return false
}

// safeInvoke calls a handler with panic recovery so one failing
// subscriber cannot crash the emitter or starve later subscribers.
func safeInvoke(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}

// Recorder is an emitter-compatible sink that records every event.
// Used in tests to assert on emission order and payloads.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
}

// NewRecorder creates a new event recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit records an event.
func (r *Recorder) Emit(eventType Type, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// EventsByType returns recorded events of a specific type.
func (r *Recorder) EventsByType(eventType Type) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Clear removes all recorded events.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
