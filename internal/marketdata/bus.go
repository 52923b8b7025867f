package marketdata

import (
	"sync"
)

const (
	EventPrices          = "prices"
	EventPositionsMarked = "positions_marked"
)

type Event struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id,omitempty"`
	Data      any    `json:"data"`
}

type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]map[string]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]map[string]struct{})}
}

func (b *Bus) Subscribe() chan Event {
	return b.SubscribeN(100)
}

func (b *Bus) SubscribeN(buffer int) chan Event {
	return b.SubscribeTypes(buffer)
}

// SubscribeTypes only delivers events of the listed types. No types means
// every event.
func (b *Bus) SubscribeTypes(buffer int, types ...string) chan Event {
	ch := make(chan Event, buffer)
	var filter map[string]struct{}
	if len(types) > 0 {
		filter = make(map[string]struct{}, len(types))
		for _, t := range types {
			filter[t] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs[ch] = filter
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	for ch, filter := range b.subs {
		if filter != nil {
			if _, ok := filter[evt.Type]; !ok {
				continue
			}
		}
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}

func (b *Bus) PublishAccount(accountID string, typ string, data any) {
	b.Publish(Event{Type: typ, AccountID: accountID, Data: data})
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
