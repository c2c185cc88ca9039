// Package events carries stream, asset and log notifications between the
// controller, the HTTP layer and the systemd notifier.
package events

import (
	"sync/atomic"

	"github.com/kelindar/event"
)

// Bus is an in-process publish/subscribe hub. Handlers run on the
// dispatcher's goroutines, not the publisher's.
type Bus struct {
	dispatcher *event.Dispatcher
	dropped    atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// routes maps a type id to a publisher for its concrete type. The dispatcher
// keys subscriptions on the static type, so Publish has to recover it.
var routes = map[uint32]func(*event.Dispatcher, Event){
	TypeStreamStateChanged: route[StreamStateChangedEvent],
	TypeStreamError:        route[StreamErrorEvent],
	TypeEncoderStats:       route[EncoderStatsEvent],
	TypeAssetChanged:       route[AssetChangedEvent],
	TypeLogEntry:           route[LogEntryEvent],
}

func route[T Event](d *event.Dispatcher, ev Event) {
	if e, ok := ev.(T); ok {
		event.Publish(d, e)
	}
}

// Publish delivers ev to the subscribers of its type. Unknown types are ignored.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	if publish, ok := routes[ev.Type()]; ok {
		publish(b.dispatcher, ev)
	}
}

// On subscribes fn to events of type T and returns the unsubscribe function.
func On[T Event](b *Bus, fn func(T)) func() {
	return event.Subscribe(b.dispatcher, fn)
}

// SubscribeToChannel forwards events of type T to ch for select loops such
// as the SSE handlers. A full channel drops the event and counts it in
// Dropped instead of stalling the dispatcher.
func SubscribeToChannel[T Event](b *Bus, ch chan<- any) func() {
	return On(b, func(e T) {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	})
}

// Dropped returns how many events SubscribeToChannel discarded.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
