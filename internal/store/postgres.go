package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const changeChannel = "platform_document_changes"

// Postgres stores documents as jsonb rows and delivers live subscriptions
// through LISTEN/NOTIFY, so changes made by other processes reach local
// subscribers the same way local writes do.
type Postgres struct {
	db       *sql.DB
	listener *pq.Listener
	logger   *logrus.Logger

	mutex       sync.RWMutex
	subscribers map[string][]*memorySubscriber
}

type changePayload struct {
	Kind       ChangeKind `json:"kind"`
	Collection string     `json:"collection"`
	ID         string     `json:"id"`
}

func NewPostgres(db *sql.DB, dsn string, logger *logrus.Logger) (*Postgres, error) {
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.WithError(err).Error("Postgres listener event error")
		}
	})
	if err := listener.Listen(changeChannel); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", changeChannel, err)
	}

	return &Postgres{
		db:          db,
		listener:    listener,
		logger:      logger,
		subscribers: make(map[string][]*memorySubscriber),
	}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection VARCHAR(64) NOT NULL,
			id VARCHAR(255) NOT NULL,
			data JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Run dispatches incoming notifications to local subscribers until the
// context is cancelled.
func (p *Postgres) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.listener.Close()
			return
		case n := <-p.listener.Notify:
			if n == nil {
				// Connection re-established; subscribers may have missed
				// notifications while reconnecting.
				p.logger.Warn("Postgres listener reconnected, changes may have been missed")
				continue
			}
			p.dispatch(ctx, n.Extra)
		case <-time.After(90 * time.Second):
			go p.listener.Ping()
		}
	}
}

func (p *Postgres) dispatch(ctx context.Context, payload string) {
	var cp changePayload
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		p.logger.WithError(err).Error("Failed to unmarshal change notification")
		return
	}

	change := Change{Kind: cp.Kind, Collection: cp.Collection, ID: cp.ID}
	if cp.Kind != ChangeRemoved {
		doc, err := p.Get(ctx, cp.Collection, cp.ID)
		if err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"collection": cp.Collection,
				"id":         cp.ID,
			}).Error("Failed to load changed document")
			return
		}
		change.Doc = doc
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()
	for _, sub := range p.subscribers[cp.Collection] {
		select {
		case sub.ch <- change:
		default:
			p.logger.WithFields(logrus.Fields{
				"collection": cp.Collection,
				"id":         cp.ID,
			}).Warn("Subscriber buffer full, dropping change")
		}
	}
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}

func (p *Postgres) Put(ctx context.Context, collection, id string, doc map[string]interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	var inserted bool
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO documents (collection, id, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (collection, id) DO UPDATE SET data = $3, updated_at = now()
		 RETURNING (xmax = 0)`,
		collection, id, raw,
	).Scan(&inserted)
	if err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}

	kind := ChangeModified
	if inserted {
		kind = ChangeAdded
	}
	return p.notify(ctx, changePayload{Kind: kind, Collection: collection, ID: id})
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	result, err := p.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return p.notify(ctx, changePayload{Kind: ChangeRemoved, Collection: collection, ID: id})
}

func (p *Postgres) notify(ctx context.Context, cp changePayload) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal change notification: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, changeChannel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify change: %w", err)
	}
	return nil
}

func (p *Postgres) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = $1`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var result []Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		var doc map[string]interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			p.logger.WithError(err).WithField("id", id).Error("Failed to unmarshal stored document")
			continue
		}
		if matches(doc, filter) {
			result = append(result, Document{ID: id, Data: doc})
		}
	}
	return result, rows.Err()
}

func (p *Postgres) Subscribe(ctx context.Context, collection string) (*Subscription, error) {
	sub := &memorySubscriber{
		collection: collection,
		ch:         make(chan Change, subscriberBuffer),
	}

	p.mutex.Lock()
	p.subscribers[collection] = append(p.subscribers[collection], sub)
	p.mutex.Unlock()

	return NewSubscription(sub.ch, func() { p.unsubscribe(sub) }), nil
}

func (p *Postgres) unsubscribe(sub *memorySubscriber) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true

	subs := p.subscribers[sub.collection]
	for i, s := range subs {
		if s == sub {
			p.subscribers[sub.collection] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	close(sub.ch)
}
