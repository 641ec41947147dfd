package event

import (
	"context"
	"io"
	"sort"
)

type Header interface {
	Get(key string) string
	Set(key string, value string)
	Keys() []string
}

type Event interface {
	Header() Header
	Key() string
	Value() []byte
}

// Producer publishes events to a broker.
type Producer interface {
	io.Closer
	Send(ctx context.Context, msg Event) error
	BatchSend(ctx context.Context, msg []Event) error
}

// MapHeader is a Header backed by a map
type MapHeader map[string]string

func (h MapHeader) Get(key string) string {
	return h[key]
}

func (h MapHeader) Set(key string, value string) {
	h[key] = value
}

// Keys returns the header keys in sorted order.
func (h MapHeader) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Message struct {
	header MapHeader
	key    string
	value  []byte
}

var _ Event = (*Message)(nil)

func NewMessage(key string, value []byte) *Message {
	return &Message{
		key:    key,
		value:  value,
		header: MapHeader{},
	}
}

func (m *Message) Header() Header {
	return m.header
}

func (m *Message) Key() string {
	return m.key
}

func (m *Message) Value() []byte {
	return m.value
}
