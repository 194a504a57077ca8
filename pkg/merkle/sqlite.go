package merkle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	hash        TEXT NOT NULL UNIQUE,
	parent_hash TEXT,
	bucket      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_parent_hash ON nodes(parent_hash);
`

const selectNodes = `SELECT hash, parent_hash, bucket FROM nodes`

// SQLiteStorer is a Storer backed by a SQLite database.
type SQLiteStorer struct {
	db *sql.DB
}

// NewSQLiteStorer opens (creating if needed) the database at path.
// Use ":memory:" for an in-memory database.
func NewSQLiteStorer(path string) (*SQLiteStorer, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// Every connection to ":memory:" is a distinct database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStorer{db: db}, nil
}

func (s *SQLiteStorer) Put(ctx context.Context, node *Node) (bool, error) {
	if node == nil {
		return false, errors.New("cannot store nil node")
	}

	bucket, err := json.Marshal(node.Bucket)
	if err != nil {
		return false, fmt.Errorf("marshal bucket: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO nodes (hash, parent_hash, bucket) VALUES (?, ?, ?)`,
		node.Hash, node.ParentHash, string(bucket),
	)
	if err != nil {
		return false, fmt.Errorf("insert node: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStorer) Get(ctx context.Context, hash string) (*Node, error) {
	nodes, err := s.query(ctx, selectNodes+` WHERE hash = ?`, hash)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrNotFound{Hash: hash}
	}
	return nodes[0], nil
}

func (s *SQLiteStorer) Has(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM nodes WHERE hash = ?)`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query node: %w", err)
	}
	return exists, nil
}

func (s *SQLiteStorer) GetByParent(ctx context.Context, parentHash *string) ([]*Node, error) {
	if parentHash == nil {
		return s.query(ctx, selectNodes+` WHERE parent_hash IS NULL ORDER BY seq`)
	}
	return s.query(ctx, selectNodes+` WHERE parent_hash = ? ORDER BY seq`, *parentHash)
}

func (s *SQLiteStorer) List(ctx context.Context) ([]*Node, error) {
	return s.query(ctx, selectNodes+` ORDER BY seq`)
}

func (s *SQLiteStorer) Roots(ctx context.Context) ([]*Node, error) {
	return s.GetByParent(ctx, nil)
}

func (s *SQLiteStorer) Leaves(ctx context.Context) ([]*Node, error) {
	return s.query(ctx, selectNodes+` n WHERE NOT EXISTS (
		SELECT 1 FROM nodes c WHERE c.parent_hash = n.hash
	) ORDER BY seq`)
}

func (s *SQLiteStorer) Ancestry(ctx context.Context, hash string) ([]*Node, error) {
	return ancestry(ctx, s.Get, hash)
}

func (s *SQLiteStorer) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorer) query(ctx context.Context, q string, args ...any) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []*Node{}
	for rows.Next() {
		var (
			node   Node
			parent sql.NullString
			bucket string
		)
		if err := rows.Scan(&node.Hash, &parent, &bucket); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if parent.Valid {
			node.ParentHash = &parent.String
		}
		if err := json.Unmarshal([]byte(bucket), &node.Bucket); err != nil {
			return nil, fmt.Errorf("unmarshal bucket %s: %w", node.Hash, err)
		}
		nodes = append(nodes, &node)
	}

	return nodes, rows.Err()
}
