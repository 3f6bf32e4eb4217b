package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    data TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection_created
    ON documents (collection, created_at);`

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLite keeps every collection in one table, one JSON document per row.
type SQLite struct {
	conn *sql.DB
	hub  *hub

	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" for tests.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL"
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; this also keeps a ":memory:" database on a single connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	storeLogger.Info().Str("path", path).Msg("Document store initialized")

	return &SQLite{
		conn: conn,
		hub:  newHub(),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLite) Close() error {
	s.hub.close()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *SQLite) Subscribe(ctx context.Context, collection string) <-chan Change {
	return s.hub.subscribe(ctx, collection)
}

func (s *SQLite) Get(ctx context.Context, collection, id string) (*Document, error) {
	return getDocument(ctx, s.conn, collection, id)
}

func (s *SQLite) Create(ctx context.Context, collection string, data map[string]any) (*Document, error) {
	id := uuid.New().String()
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}

	now := s.now().UnixNano()
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, raw, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", collection, err)
	}

	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	s.hub.publish(Change{Kind: ChangeCreated, Document: doc})
	return doc, nil
}

func (s *SQLite) Set(ctx context.Context, collection, id string, data map[string]any) (*Document, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	return s.upsert(ctx, collection, id,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		raw,
	)
}

func (s *SQLite) Merge(ctx context.Context, collection, id string, data map[string]any) (*Document, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	// The inserted row goes through json_patch as well so null members are dropped.
	return s.upsert(ctx, collection, id,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, json_patch('{}', ?3), ?4, ?5)
		 ON CONFLICT (collection, id) DO UPDATE SET data = json_patch(documents.data, ?3), updated_at = excluded.updated_at`,
		raw,
	)
}

// upsert runs an INSERT ... ON CONFLICT statement taking (collection, id, data, created, updated).
func (s *SQLite) upsert(ctx context.Context, collection, id, stmt, raw string) (*Document, error) {
	if id == "" {
		return nil, fmt.Errorf("write %s: empty document id", collection)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	kind := ChangeUpdated
	if _, err := getDocument(ctx, tx, collection, id); errors.Is(err, ErrNotFound) {
		kind = ChangeCreated
	} else if err != nil {
		return nil, err
	}

	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx, stmt, collection, id, raw, now, now); err != nil {
		return nil, fmt.Errorf("write %s/%s: %w", collection, id, err)
	}

	doc, err := getDocument(ctx, tx, collection, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit %s/%s: %w", collection, id, err)
	}

	s.hub.publish(Change{Kind: kind, Document: doc})
	return doc, nil
}

func (s *SQLite) Update(ctx context.Context, collection, id string, data map[string]any) (*Document, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	return s.updateExisting(ctx, collection, id,
		`UPDATE documents SET data = json_patch(data, ?), updated_at = ? WHERE collection = ? AND id = ?`,
		raw, s.now().UnixNano(), collection, id,
	)
}

func (s *SQLite) Increment(ctx context.Context, collection, id, field string, delta int64) (*Document, error) {
	if !fieldName.MatchString(field) {
		return nil, fmt.Errorf("increment %s/%s: invalid field name %q", collection, id, field)
	}
	path := "$." + field
	return s.updateExisting(ctx, collection, id,
		`UPDATE documents
		 SET data = json_set(data, ?, COALESCE(json_extract(data, ?), 0) + ?), updated_at = ?
		 WHERE collection = ? AND id = ?`,
		path, path, delta, s.now().UnixNano(), collection, id,
	)
}

func (s *SQLite) updateExisting(ctx context.Context, collection, id, stmt string, args ...any) (*Document, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}

	doc, err := getDocument(ctx, tx, collection, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit %s/%s: %w", collection, id, err)
	}

	s.hub.publish(Change{Kind: ChangeUpdated, Document: doc})
	return doc, nil
}

func (s *SQLite) Mutate(ctx context.Context, collection, id string, fn func(data map[string]any) (map[string]any, error)) (*Document, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	current, err := getDocument(ctx, tx, collection, id)
	if err != nil {
		return nil, err
	}

	next, err := fn(current.Data)
	if err != nil {
		return nil, err
	}
	raw, err := encodeData(next)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		raw, s.now().UnixNano(), collection, id,
	)
	if err != nil {
		return nil, fmt.Errorf("mutate %s/%s: %w", collection, id, err)
	}

	doc, err := getDocument(ctx, tx, collection, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit %s/%s: %w", collection, id, err)
	}

	s.hub.publish(Change{Kind: ChangeUpdated, Document: doc})
	return doc, nil
}

func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.hub.publish(Change{Kind: ChangeDeleted, Document: &Document{ID: id, Collection: collection}})
	}
	return nil
}

func (s *SQLite) Query(ctx context.Context, q Query) ([]*Document, error) {
	stmt, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}

	storeLogger.Debug().Str("query", stmt).Str("collection", q.Collection).Msg("Query")

	rows, err := s.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	docs := make([]*Document, 0)
	for rows.Next() {
		doc := &Document{Collection: q.Collection}
		var raw string
		var created, updated int64
		if err := rows.Scan(&doc.ID, &raw, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		if doc.Data, err = decodeData(raw); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", q.Collection, doc.ID, err)
		}
		doc.CreatedAt = time.Unix(0, created).UTC()
		doc.UpdatedAt = time.Unix(0, updated).UTC()
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows %s: %w", q.Collection, err)
	}
	return docs, nil
}

func buildQuery(q Query) (string, []any, error) {
	var sb strings.Builder
	args := []any{q.Collection}

	sb.WriteString(`SELECT id, data, created_at, updated_at FROM documents WHERE collection = ?`)

	for _, f := range q.Where {
		expr, exprArgs, err := fieldExpr(f.Field)
		if err != nil {
			return "", nil, err
		}

		switch f.Op {
		case OpEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
			op := string(f.Op)
			if f.Op == OpEqual {
				op = "="
			}
			sb.WriteString(" AND " + expr + " " + op + " ?")
			args = append(args, exprArgs...)
			args = append(args, f.Value)
		case OpNotEqual:
			sb.WriteString(" AND " + expr + " IS NOT ?")
			args = append(args, exprArgs...)
			args = append(args, f.Value)
		case OpContains:
			if len(exprArgs) == 0 {
				return "", nil, fmt.Errorf("contains filter needs a data field, got %q", f.Field)
			}
			sb.WriteString(" AND EXISTS (SELECT 1 FROM json_each(data, ?) WHERE json_each.value = ?)")
			args = append(args, exprArgs[0], f.Value)
		case OpMatch:
			sb.WriteString(" AND instr(lower(" + expr + "), lower(?)) > 0")
			args = append(args, exprArgs...)
			args = append(args, f.Value)
		default:
			return "", nil, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = FieldCreatedAt
	}
	expr, exprArgs, err := fieldExpr(orderBy)
	if err != nil {
		return "", nil, err
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	sb.WriteString(" ORDER BY " + expr + " " + dir + ", id " + dir)
	args = append(args, exprArgs...)

	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	return sb.String(), args, nil
}

// fieldExpr maps a field name to a SQL expression and its bind arguments.
func fieldExpr(field string) (string, []any, error) {
	switch field {
	case FieldID:
		return "id", nil, nil
	case FieldCreatedAt:
		return "created_at", nil, nil
	case FieldUpdatedAt:
		return "updated_at", nil, nil
	}
	if !fieldName.MatchString(field) {
		return "", nil, fmt.Errorf("invalid field name %q", field)
	}
	return "json_extract(data, ?)", []any{"$." + field}, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDocument(ctx context.Context, q queryer, collection, id string) (*Document, error) {
	var raw string
	var created, updated int64
	err := q.QueryRowContext(ctx,
		`SELECT data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&raw, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}

	data, err := decodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}

	return &Document{
		ID:         id,
		Collection: collection,
		Data:       data,
		CreatedAt:  time.Unix(0, created).UTC(),
		UpdatedAt:  time.Unix(0, updated).UTC(),
	}, nil
}

func encodeData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(raw), nil
}

func decodeData(raw string) (map[string]any, error) {
	data := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}
