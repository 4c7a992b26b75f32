// Package retained keeps the last retained message of each topic.
package retained

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	"github.com/life-stream-dev/pitstopper/internal/topic"
)

// Table holds at most one message per topic, bounded by capacity. When full,
// the topic updated least recently is evicted. Lookups do not count as updates.
type Table struct {
	cache   *lru.Cache[string, mqtt.Message]
	evicted atomic.Uint64
}

func NewTable(capacity int) (*Table, error) {
	t := &Table{}
	cache, err := lru.NewWithEvict(capacity, func(topicName string, _ mqtt.Message) {
		t.evicted.Add(1)
		logger.DebugF("Retained message on %s evicted", topicName)
	})
	if err != nil {
		return nil, err
	}
	t.cache = cache
	return t, nil
}

// Set stores msg as the retained message of its topic. An empty payload
// removes the entry instead.
func (t *Table) Set(msg mqtt.Message) {
	if len(msg.Payload) == 0 {
		t.cache.Remove(msg.Topic)
		return
	}
	msg.Retain = true
	msg.Dup = false
	msg.PacketID = 0
	msg.Payload = append([]byte(nil), msg.Payload...)
	t.cache.Add(msg.Topic, msg)
}

func (t *Table) Get(topicName string) (mqtt.Message, bool) {
	return t.cache.Peek(topicName)
}

// Match returns the retained messages whose topic matches filter, oldest update first.
func (t *Table) Match(filter string) []mqtt.Message {
	var result []mqtt.Message
	for _, key := range t.cache.Keys() {
		if !topic.Match(filter, key) {
			continue
		}
		if msg, ok := t.cache.Peek(key); ok {
			result = append(result, msg)
		}
	}
	return result
}

func (t *Table) Len() int {
	return t.cache.Len()
}

// Evicted is the number of entries dropped to stay within capacity.
func (t *Table) Evicted() uint64 {
	return t.evicted.Load()
}
