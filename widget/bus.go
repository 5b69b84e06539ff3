package widget

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	// SourceMarker identifies result messages posted by the payment page.
	SourceMarker = "secureframe"
	// EncodingBase64 marks a payload that is base64 encoded JSON.
	EncodingBase64 = "base64"
)

// Message is a cross-frame message as seen by every listener on the page.
type Message struct {
	Source   string `json:"source"`
	Encoding string `json:"encoding,omitempty"`
	// Payload is either a JSON string (base64 encoded result) or any JSON value.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Correlation is the widget id the result belongs to, when the relay knows it.
	Correlation string `json:"correlation,omitempty"`
}

// EncodeResult wraps v as a base64 result message the way the payment page posts it.
func EncodeResult(v any) (Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode result: %w", err)
	}
	payload, err := json.Marshal(base64.StdEncoding.EncodeToString(b))
	if err != nil {
		return Message{}, fmt.Errorf("encode result: %w", err)
	}
	return Message{Source: SourceMarker, Encoding: EncodingBase64, Payload: payload}, nil
}

type Handler func(Message)

// Bus is the page-wide message channel. Every mounted widget receives every
// message and filters for itself.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]Handler)}
}

// Subscribe registers h and returns the function that releases it.
// Calling release more than once is harmless.
func (b *Bus) Subscribe(h Handler) (release func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Post delivers m to every subscriber in subscription order.
func (b *Bus) Post(m Message) {
	b.mu.RLock()
	handlers := maps.Clone(b.subs)
	b.mu.RUnlock()

	ids := maps.Keys(handlers)
	slices.Sort(ids)
	for _, id := range ids {
		handlers[id](m)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
