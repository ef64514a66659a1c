package player

import (
	"sync"

	"github.com/cadenza-player/cadenza/pkg/types"
)

// Event types published by the engine.
const (
	EventTrackChanged  = "track_changed"
	EventStateChanged  = "state_changed"
	EventPosition      = "position"
	EventPlaybackError = "playback_error"
)

// PlaybackError is the payload of EventPlaybackError.
type PlaybackError struct {
	Track  *types.Track
	Reason string
}

type EventHandler func(data interface{})

// eventBus fans engine events out to subscribers. UI layers subscribe to
// it instead of the engine depending on any UI framework.
type eventBus struct {
	subscribers map[string][]EventHandler
	mutex       sync.RWMutex
}

func newEventBus() *eventBus {
	return &eventBus{
		subscribers: make(map[string][]EventHandler),
	}
}

func (bus *eventBus) Subscribe(eventType string, handler EventHandler) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	bus.subscribers[eventType] = append(bus.subscribers[eventType], handler)
}

func (bus *eventBus) Publish(eventType string, data interface{}) {
	bus.mutex.RLock()
	handlers := bus.subscribers[eventType]
	bus.mutex.RUnlock()

	for _, handler := range handlers {
		go handler(data)
	}
}
