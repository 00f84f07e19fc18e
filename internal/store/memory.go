package store

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

const subscriberBuffer = 256

// Memory is an in-process Store used by tests and by the embedded single-node
// mode. Subscriptions are fanned out synchronously under the write lock, so a
// subscriber observes changes in the order the store applied them.
type Memory struct {
	mutex       sync.RWMutex
	collections map[string]map[string]map[string]interface{}
	subscribers map[string][]*memorySubscriber
	logger      *logrus.Logger
}

type memorySubscriber struct {
	collection string
	ch         chan Change
	closed     bool
}

func NewMemory(logger *logrus.Logger) *Memory {
	return &Memory{
		collections: make(map[string]map[string]map[string]interface{}),
		subscribers: make(map[string][]*memorySubscriber),
		logger:      logger,
	}
}

func (m *Memory) Get(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(doc), nil
}

func (m *Memory) Put(ctx context.Context, collection, id string, doc map[string]interface{}) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]map[string]interface{})
		m.collections[collection] = docs
	}

	kind := ChangeAdded
	if _, exists := docs[id]; exists {
		kind = ChangeModified
	}
	docs[id] = copyDoc(doc)

	m.publish(Change{Kind: kind, Collection: collection, ID: id, Doc: copyDoc(doc)})
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	docs := m.collections[collection]
	if _, ok := docs[id]; !ok {
		return ErrNotFound
	}
	delete(docs, id)

	m.publish(Change{Kind: ChangeRemoved, Collection: collection, ID: id})
	return nil
}

func (m *Memory) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []Document
	for id, doc := range m.collections[collection] {
		if matches(doc, filter) {
			result = append(result, Document{ID: id, Data: copyDoc(doc)})
		}
	}
	return result, nil
}

func (m *Memory) Subscribe(ctx context.Context, collection string) (*Subscription, error) {
	sub := &memorySubscriber{
		collection: collection,
		ch:         make(chan Change, subscriberBuffer),
	}

	m.mutex.Lock()
	m.subscribers[collection] = append(m.subscribers[collection], sub)
	m.mutex.Unlock()

	return NewSubscription(sub.ch, func() { m.unsubscribe(sub) }), nil
}

func (m *Memory) unsubscribe(sub *memorySubscriber) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true

	subs := m.subscribers[sub.collection]
	for i, s := range subs {
		if s == sub {
			m.subscribers[sub.collection] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	close(sub.ch)
}

// publish is called with the write lock held.
func (m *Memory) publish(change Change) {
	for _, sub := range m.subscribers[change.Collection] {
		select {
		case sub.ch <- change:
		default:
			m.logger.WithFields(logrus.Fields{
				"collection": change.Collection,
				"id":         change.ID,
			}).Warn("Subscriber buffer full, dropping change")
		}
	}
}

func copyDoc(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
