package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"qms/frontdesk-service/internal/docstore"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type Store struct {
	db   DB
	feed docstore.ChangeFeed
}

type Options struct {
	Feed docstore.ChangeFeed
}

func NewStore(db DB, options Options) *Store {
	return &Store{db: db, feed: options.Feed}
}

func (s *Store) NewID() string {
	return docstore.NewID()
}

func (s *Store) Create(ctx context.Context, collection string, value interface{}) (string, error) {
	id := s.NewID()
	if err := s.Apply(ctx, docstore.Write{Path: docstore.Join(collection, id), Value: value}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Read(ctx context.Context, docPath string, dst interface{}) (bool, error) {
	clean, err := docstore.Clean(docPath)
	if err != nil {
		return false, err
	}
	var data []byte
	row := s.db.QueryRow(ctx, `
		SELECT data
		FROM documents
		WHERE path = $1
	`, clean)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if dst == nil {
		return true, nil
	}
	return true, json.Unmarshal(data, dst)
}

func (s *Store) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	clean, err := docstore.Clean(collection)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, path, data
		FROM documents
		WHERE collection = $1
		ORDER BY id ASC
	`, clean)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var doc docstore.Document
		var data []byte
		if err := rows.Scan(&doc.ID, &doc.Path, &data); err != nil {
			return nil, err
		}
		doc.Data = data
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) ChildKeys(ctx context.Context, collection string) ([]string, error) {
	clean, err := docstore.Clean(collection)
	if err != nil {
		return nil, err
	}
	depth := strings.Count(clean, "/") + 2
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT split_part(collection, '/', $2) AS child
		FROM documents
		WHERE starts_with(collection, $1)
		ORDER BY child ASC
	`, clean+"/", depth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) Update(ctx context.Context, docPath string, fields map[string]interface{}) error {
	return s.Apply(ctx, docstore.Write{Path: docPath, Fields: fields})
}

func (s *Store) Apply(ctx context.Context, writes ...docstore.Write) error {
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	changed := make(map[string]struct{})
	for _, w := range writes {
		if err = applyWrite(ctx, tx, w); err != nil {
			return err
		}
		for _, collection := range docstore.Collections(strings.Trim(w.Path, "/")) {
			changed[collection] = struct{}{}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	s.publish(ctx, changed)
	return nil
}

func (s *Store) Delete(ctx context.Context, docPath string) error {
	clean, err := docstore.Clean(docPath)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `
		DELETE FROM documents
		WHERE path = $1 OR collection = $1 OR starts_with(collection, $2)
	`, clean, clean+"/"); err != nil {
		return err
	}
	changed := map[string]struct{}{clean: {}}
	for _, collection := range docstore.Collections(clean) {
		changed[collection] = struct{}{}
	}
	s.publish(ctx, changed)
	return nil
}

func (s *Store) Increment(ctx context.Context, counterPath string) (int64, error) {
	clean, err := docstore.Clean(counterPath)
	if err != nil {
		return 0, err
	}
	var next int64
	row := s.db.QueryRow(ctx, `
		INSERT INTO doc_sequences (path, next_number)
		VALUES ($1, 1)
		ON CONFLICT (path)
		DO UPDATE SET next_number = doc_sequences.next_number + 1
		RETURNING next_number
	`, clean)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, fn func([]docstore.Document)) (func(), error) {
	if s.feed == nil {
		return nil, docstore.ErrNoFeed
	}
	clean, err := docstore.Clean(collection)
	if err != nil {
		return nil, err
	}
	deliver := func() {
		docs, err := s.List(ctx, clean)
		if err != nil {
			log.Warn().Err(err).Str("collection", clean).Msg("docstore snapshot failed")
			return
		}
		fn(docs)
	}
	cancel, err := s.feed.Subscribe(ctx, clean, deliver)
	if err != nil {
		return nil, err
	}
	deliver()
	return cancel, nil
}

func (s *Store) publish(ctx context.Context, changed map[string]struct{}) {
	if s.feed == nil {
		return
	}
	for collection := range changed {
		if err := s.feed.Publish(ctx, collection); err != nil {
			log.Warn().Err(err).Str("collection", collection).Msg("docstore change publish failed")
		}
	}
}

func applyWrite(ctx context.Context, tx pgx.Tx, w docstore.Write) error {
	collection, id, err := docstore.Split(w.Path)
	if err != nil {
		return err
	}
	docPath := docstore.Join(collection, id)

	if len(w.Expect) > 0 {
		if err := checkExpect(ctx, tx, docPath, w.Expect); err != nil {
			return err
		}
	}

	if w.Value != nil {
		data, err := json.Marshal(w.Value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", docPath, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO documents (path, collection, id, data, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (path)
			DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
		`, docPath, collection, id, data)
		return err
	}

	fields := w.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", docPath, err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO documents (path, collection, id, data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (path)
		DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, docPath, collection, id, data)
	return err
}

// checkExpect locks the row for the rest of the transaction, so a concurrent
// writer with the same expectation sees the committed result.
func checkExpect(ctx context.Context, tx pgx.Tx, docPath string, expect map[string]interface{}) error {
	var data []byte
	err := tx.QueryRow(ctx, `
		SELECT data
		FROM documents
		WHERE path = $1
		FOR UPDATE
	`, docPath).Scan(&data)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	match, err := docstore.Matches(data, expect)
	if err != nil {
		return fmt.Errorf("check %s: %w", docPath, err)
	}
	if !match {
		return fmt.Errorf("%s: %w", docPath, docstore.ErrPreconditionFailed)
	}
	return nil
}
