package backend

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/apibench/internal/api"
)

//go:embed schema.sql
var schemaSQL string

// Reference is the in-process SQLite-backed implementation of the built-in
// task APIs. It exists to validate tasks and the harness itself: a correct
// Reference must grade 1.0, and its fault-injection modes must be caught.
//
// State lives in a temporary database file removed by Stop. In the default
// configuration every mutating call runs in one transaction on a
// single-connection pool, so the backend is serializable and reads within
// a request observe the request's earlier writes.
type Reference struct {
	db          *sql.DB
	dir         string
	lostUpdates bool
	raceWindow  time.Duration
}

// ReferenceOption configures a Reference.
type ReferenceOption func(*Reference)

// WithLostUpdates injects a lost-update bug into the append path: appends
// read the current list, pause, and write it back without a transaction
// over a widened connection pool. Sequential callers never notice;
// concurrent appends to the same key overwrite each other's elements.
func WithLostUpdates() ReferenceOption {
	return func(r *Reference) { r.lostUpdates = true }
}

// NewReference creates a reference backend with fresh state.
func NewReference(opts ...ReferenceOption) (*Reference, error) {
	r := &Reference{raceWindow: 2 * time.Millisecond}
	for _, opt := range opts {
		opt(r)
	}

	dir, err := os.MkdirTemp("", "apibench-ref-*")
	if err != nil {
		return nil, fmt.Errorf("create backend dir: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "ref.db"))
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("open backend database: %w", err)
	}
	if r.lostUpdates {
		// The race needs genuinely concurrent connections.
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(8)
	} else {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			os.RemoveAll(dir)
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	r.db = db
	r.dir = dir
	return r, nil
}

// APIPrompt renders the endpoint list for the in-process flavor.
func (r *Reference) APIPrompt(descs []api.Description) string {
	return "The reference backend serves these endpoints in-process:\n\n" + api.Render(descs)
}

// Description returns runtime notes for this flavor.
func (r *Reference) Description() string {
	return "In-process SQLite-backed reference implementation. Used to validate tasks and the harness; no deployment required."
}

// Start verifies the database is reachable.
func (r *Reference) Start(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping backend database: %w", err)
	}
	return nil
}

// Deploy is a no-op: the implementation is compiled in.
func (r *Reference) Deploy(ctx context.Context) error { return nil }

// Stop closes the database and removes its directory.
func (r *Reference) Stop() error {
	err := r.db.Close()
	if rmErr := os.RemoveAll(r.dir); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// CallAPI executes the named endpoint directly. Inputs and outputs pass
// through JSON so callers observe wire shapes.
func (r *Reference) CallAPI(ctx context.Context, contract Contract, name string, input any) (any, error) {
	if _, err := endpoint(contract, name); err != nil {
		return nil, err
	}
	shaped, err := roundTrip(input)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", name, err)
	}

	switch name {
	case "append":
		return r.execAppend(ctx, shaped)
	case "put":
		return r.execPut(ctx, shaped)
	case "get":
		return r.execGet(ctx, shaped)
	default:
		return nil, fmt.Errorf("endpoint %q is not implemented by the reference backend", name)
	}
}

// tuple is one [op, key, value] element of an append request.
type tuple struct {
	kind  string
	key   string
	value any
}

func parseTuples(input any) ([]tuple, error) {
	list, ok := input.([]any)
	if !ok {
		return nil, fmt.Errorf("append body must be a list of [op, key, value] tuples, got %T", input)
	}
	out := make([]tuple, len(list))
	for i, raw := range list {
		elem, ok := raw.([]any)
		if !ok || len(elem) != 3 {
			return nil, fmt.Errorf("append tuple %d: want [op, key, value]", i)
		}
		kind, kindOK := elem[0].(string)
		key, keyOK := elem[1].(string)
		if !kindOK || !keyOK {
			return nil, fmt.Errorf("append tuple %d: op and key must be strings", i)
		}
		out[i] = tuple{kind: kind, key: key, value: elem[2]}
	}
	return out, nil
}

// dbtx is the shared surface of *sql.DB and *sql.Tx the executors use.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Reference) execAppend(ctx context.Context, input any) (any, error) {
	tuples, err := parseTuples(input)
	if err != nil {
		return nil, err
	}
	if r.lostUpdates {
		return r.appendRacy(ctx, tuples)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	out, err := applyAppend(ctx, tx, tuples, 0)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return out, nil
}

// appendRacy runs the same operations without a transaction, pausing
// between each read-modify-write. This is the injected fault, not a mode
// any real run should use.
func (r *Reference) appendRacy(ctx context.Context, tuples []tuple) (any, error) {
	return applyAppend(ctx, r.db, tuples, r.raceWindow)
}

func applyAppend(ctx context.Context, q dbtx, tuples []tuple, racePause time.Duration) ([]any, error) {
	out := make([]any, len(tuples))
	for i, t := range tuples {
		switch t.kind {
		case "r":
			elems, err := readList(ctx, q, t.key)
			if err != nil {
				return nil, err
			}
			out[i] = []any{"r", t.key, elems}
		case "append":
			elems, err := readList(ctx, q, t.key)
			if err != nil {
				return nil, err
			}
			if racePause > 0 {
				time.Sleep(racePause)
			}
			elems = append(elems, t.value)
			if err := writeList(ctx, q, t.key, elems); err != nil {
				return nil, err
			}
			out[i] = []any{"append", t.key, t.value}
		default:
			return nil, fmt.Errorf("append tuple op %q: want \"r\" or \"append\"", t.kind)
		}
	}
	return out, nil
}

func readList(ctx context.Context, q dbtx, key string) ([]any, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT elems FROM lists WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read list %q: %w", key, err)
	}
	var elems []any
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return nil, fmt.Errorf("decode list %q: %w", key, err)
	}
	return elems, nil
}

func writeList(ctx context.Context, q dbtx, key string, elems []any) error {
	data, err := json.Marshal(elems)
	if err != nil {
		return fmt.Errorf("encode list %q: %w", key, err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO lists (key, elems) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET elems = excluded.elems`,
		key, string(data))
	if err != nil {
		return fmt.Errorf("write list %q: %w", key, err)
	}
	return nil
}

func (r *Reference) execPut(ctx context.Context, input any) (any, error) {
	pairs, err := parsePairs(input, "pairs")
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin put: %w", err)
	}
	defer tx.Rollback()

	for _, p := range pairs {
		data, err := json.Marshal(p.value)
		if err != nil {
			return nil, fmt.Errorf("encode register %q: %w", p.key, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO registers (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			p.key, string(data))
		if err != nil {
			return nil, fmt.Errorf("write register %q: %w", p.key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit put: %w", err)
	}
	return nil, nil
}

func (r *Reference) execGet(ctx context.Context, input any) (any, error) {
	body, ok := input.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("get body must be an object with a keys list, got %T", input)
	}
	rawKeys, ok := body["keys"].([]any)
	if !ok {
		return nil, fmt.Errorf("get body must contain a keys list")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin get: %w", err)
	}
	defer tx.Rollback()

	pairs := make([]any, len(rawKeys))
	for i, rawKey := range rawKeys {
		key, ok := rawKey.(string)
		if !ok {
			return nil, fmt.Errorf("get key %d must be a string, got %T", i, rawKey)
		}
		var raw string
		err := tx.QueryRowContext(ctx, "SELECT value FROM registers WHERE key = ?", key).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			pairs[i] = []any{key, nil}
		case err != nil:
			return nil, fmt.Errorf("read register %q: %w", key, err)
		default:
			var value any
			if err := json.Unmarshal([]byte(raw), &value); err != nil {
				return nil, fmt.Errorf("decode register %q: %w", key, err)
			}
			pairs[i] = []any{key, value}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit get: %w", err)
	}
	return map[string]any{"pairs": pairs}, nil
}

// pair is one [key, value] element of a put request.
type pair struct {
	key   string
	value any
}

func parsePairs(input any, field string) ([]pair, error) {
	body, ok := input.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("put body must be an object with a %s list, got %T", field, input)
	}
	rawPairs, ok := body[field].([]any)
	if !ok {
		return nil, fmt.Errorf("put body must contain a %s list", field)
	}
	out := make([]pair, len(rawPairs))
	for i, raw := range rawPairs {
		elem, ok := raw.([]any)
		if !ok || len(elem) != 2 {
			return nil, fmt.Errorf("%s[%d]: want [key, value]", field, i)
		}
		key, ok := elem[0].(string)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: key must be a string", field, i)
		}
		if elem[1] == nil {
			return nil, fmt.Errorf("%s[%d] (%s): null values cannot be stored, null marks missing keys", field, i, key)
		}
		out[i] = pair{key: key, value: elem[1]}
	}
	return out, nil
}
