// Package store persists parameter snapshots in a sqlite database.
//
// A snapshot records every genuine leaf of a tree: its name, size and
// constraint, plus per-scalar value, gradient and tie label. Canonical slot
// stores are deliberately not persisted; loading a snapshot restores the
// leaves and recovers the complete tie state from the labels alone.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sbl8/ligature/param"
	"github.com/sbl8/ligature/tie"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots(
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	tree       TEXT NOT NULL,
	note       TEXT
);
CREATE TABLE IF NOT EXISTS params(
	snapshot_id TEXT NOT NULL,
	name        TEXT NOT NULL,
	ord         INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	ckind       INTEGER NOT NULL,
	clo         REAL NOT NULL,
	chi         REAL NOT NULL,
	PRIMARY KEY(snapshot_id, name)
);
CREATE TABLE IF NOT EXISTS entries(
	snapshot_id TEXT NOT NULL,
	name        TEXT NOT NULL,
	idx         INTEGER NOT NULL,
	value       REAL NOT NULL,
	grad        REAL NOT NULL,
	label       INTEGER NOT NULL,
	PRIMARY KEY(snapshot_id, name, idx)
);
`

// Store is a sqlite-backed snapshot store.
type Store struct {
	db *sql.DB
}

// Snapshot describes one stored snapshot.
type Snapshot struct {
	ID        string
	CreatedAt time.Time
	Tree      string
	Note      string
}

// Member identifies one tied scalar inside a stored snapshot.
type Member struct {
	Param string
	Index int
	Value float64
}

// Open opens (or creates) a snapshot store at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveSnapshot records the tree's leaves under a fresh snapshot id. The
// canonical slot store of ties, if any, is skipped: it is derived state,
// recovered on load. Leaf names must be unique within the tree.
func (s *Store) SaveSnapshot(tree *param.Tree, ties *tie.Ties, note string) (string, error) {
	id := uuid.NewString()
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("INSERT INTO snapshots(id, created_at, tree, note) VALUES(?,?,?,?)",
		id, time.Now().Unix(), tree.Name, note); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	seen := make(map[string]bool)
	ord := 0
	for _, p := range tree.Params() {
		if ties != nil && p == ties.Slots() {
			continue
		}
		if seen[p.Name] {
			return "", fmt.Errorf("save snapshot: duplicate param name %q", p.Name)
		}
		seen[p.Name] = true

		ckind := 0
		var clo, chi float64
		if c, ok := p.Constrained(); ok {
			ckind, clo, chi = int(c.Kind), c.Lo, c.Hi
		}
		if _, err := tx.Exec("INSERT INTO params(snapshot_id, name, ord, size, ckind, clo, chi) VALUES(?,?,?,?,?,?,?)",
			id, p.Name, ord, p.Size(), ckind, clo, chi); err != nil {
			return "", fmt.Errorf("save snapshot: %w", err)
		}
		for i := 0; i < p.Size(); i++ {
			if _, err := tx.Exec("INSERT INTO entries(snapshot_id, name, idx, value, grad, label) VALUES(?,?,?,?,?,?)",
				id, p.Name, i, p.Values()[i], p.Grads()[i], p.Tie[i]); err != nil {
				return "", fmt.Errorf("save snapshot: %w", err)
			}
		}
		ord++
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return id, nil
}

// LoadSnapshot restores a snapshot into a shape-compatible tree: every leaf
// of the tree must appear in the snapshot with a matching size. Values,
// gradients, labels and constraints are restored, then the complete tie
// state is recovered from the labels.
func (s *Store) LoadSnapshot(id string, tree *param.Tree) (*tie.Ties, error) {
	var exists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("load snapshot %s: no such snapshot", id)
	}
	for _, p := range tree.Params() {
		if err := s.loadParam(id, p); err != nil {
			return nil, err
		}
	}
	ties, err := tie.Recover(tree)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	return ties, nil
}

func (s *Store) loadParam(id string, p *param.Param) error {
	var size, ckind int
	var clo, chi float64
	err := s.db.QueryRow("SELECT size, ckind, clo, chi FROM params WHERE snapshot_id = ? AND name = ?",
		id, p.Name).Scan(&size, &ckind, &clo, &chi)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load snapshot %s: param %q not in snapshot", id, p.Name)
	}
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", id, err)
	}
	if size != p.Size() {
		return fmt.Errorf("load snapshot %s: param %q has size %d, snapshot has %d", id, p.Name, p.Size(), size)
	}
	if ckind != 0 {
		p.Constrain(param.Constraint{Kind: param.Kind(ckind), Lo: clo, Hi: chi})
	} else {
		p.Unconstrain()
	}

	rows, err := s.db.Query("SELECT idx, value, grad, label FROM entries WHERE snapshot_id = ? AND name = ? ORDER BY idx",
		id, p.Name)
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", id, err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var idx int
		var value, grad float64
		var label uint32
		if err := rows.Scan(&idx, &value, &grad, &label); err != nil {
			return fmt.Errorf("load snapshot %s: %w", id, err)
		}
		if idx < 0 || idx >= p.Size() {
			return fmt.Errorf("load snapshot %s: param %q entry index %d out of range", id, p.Name, idx)
		}
		p.Values()[idx] = value
		p.Grads()[idx] = grad
		p.Tie[idx] = label
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load snapshot %s: %w", id, err)
	}
	if n != p.Size() {
		return fmt.Errorf("load snapshot %s: param %q has %d entries, expected %d", id, p.Name, n, p.Size())
	}
	return nil
}

// Snapshots lists every stored snapshot, oldest first.
func (s *Store) Snapshots() ([]Snapshot, error) {
	rows, err := s.db.Query("SELECT id, created_at, tree, note FROM snapshots ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var sn Snapshot
		var ts int64
		if err := rows.Scan(&sn.ID, &ts, &sn.Tree, &sn.Note); err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		sn.CreatedAt = time.Unix(ts, 0)
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// Groups returns the tie groups of a stored snapshot keyed by label, each
// with its member scalars in param order.
func (s *Store) Groups(id string) (map[uint32][]Member, error) {
	rows, err := s.db.Query(`
		SELECT e.name, e.idx, e.value, e.label
		FROM entries e JOIN params p ON p.snapshot_id = e.snapshot_id AND p.name = e.name
		WHERE e.snapshot_id = ? AND e.label > 0
		ORDER BY p.ord, e.idx`, id)
	if err != nil {
		return nil, fmt.Errorf("snapshot groups: %w", err)
	}
	defer rows.Close()
	groups := make(map[uint32][]Member)
	for rows.Next() {
		var m Member
		var label uint32
		if err := rows.Scan(&m.Param, &m.Index, &m.Value, &label); err != nil {
			return nil, fmt.Errorf("snapshot groups: %w", err)
		}
		groups[label] = append(groups[label], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot groups: %w", err)
	}
	return groups, nil
}
