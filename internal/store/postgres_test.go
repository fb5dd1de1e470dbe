package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// lockTestDriver stands in for Postgres and answers pg_try_advisory_lock with
// whatever the shared state says.
type lockTestDriver struct {
	state *lockTestState
}

type lockTestState struct {
	mu       sync.Mutex
	held     bool
	queries  []string
	unlocked int
}

type lockTestConn struct {
	state *lockTestState
}

type lockTestRows struct {
	value driver.Value
	done  bool
}

type lockTestTx struct{}

type lockTestResult struct{}

func (d lockTestDriver) Open(string) (driver.Conn, error) { return &lockTestConn{state: d.state}, nil }

func (c *lockTestConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c *lockTestConn) Close() error                        { return nil }
func (c *lockTestConn) Begin() (driver.Tx, error)           { return lockTestTx{}, nil }

func (c *lockTestConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	c.state.queries = append(c.state.queries, query)

	if strings.Contains(query, "pg_try_advisory_lock") {
		if c.state.held {
			return &lockTestRows{value: false}, nil
		}
		c.state.held = true
		return &lockTestRows{value: true}, nil
	}
	return nil, errors.New("unexpected query")
}

func (c *lockTestConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	c.state.queries = append(c.state.queries, query)

	if strings.Contains(query, "pg_advisory_unlock") {
		c.state.held = false
		c.state.unlocked++
	}
	return lockTestResult{}, nil
}

func (lockTestTx) Commit() error   { return nil }
func (lockTestTx) Rollback() error { return nil }

func (r *lockTestRows) Columns() []string { return []string{"acquired"} }
func (r *lockTestRows) Close() error      { return nil }
func (r *lockTestRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	dest[0] = r.value
	r.done = true
	return nil
}

func (lockTestResult) LastInsertId() (int64, error) { return 0, nil }
func (lockTestResult) RowsAffected() (int64, error) { return 0, nil }

var (
	lockState        = &lockTestState{}
	registerLockOnce sync.Once
)

func openLockTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	registerLockOnce.Do(func() { sql.Register("pglockdummy", lockTestDriver{state: lockState}) })

	conn, err := sql.Open("pglockdummy", "")
	if err != nil {
		t.Fatalf("failed to open dummy driver: %v", err)
	}

	s, err := newPostgres(context.Background(), conn, Options{BatchSize: 50, QueryTimeout: time.Second})
	if err != nil {
		t.Fatalf("newPostgres() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgres_MigrateAppliesSchema(t *testing.T) {
	lockState.mu.Lock()
	lockState.queries = nil
	lockState.mu.Unlock()

	openLockTestPostgres(t)

	lockState.mu.Lock()
	defer lockState.mu.Unlock()
	if len(lockState.queries) != len(postgresSchema) {
		t.Fatalf("executed %d statements, want %d", len(lockState.queries), len(postgresSchema))
	}
	if !strings.Contains(lockState.queries[2], "trend_records") {
		t.Errorf("third statement = %q, want trend_records table", lockState.queries[2])
	}
}

func TestPostgres_TryLockAdvisory(t *testing.T) {
	s := openLockTestPostgres(t)
	ctx := context.Background()

	lockState.mu.Lock()
	before := lockState.unlocked
	lockState.mu.Unlock()

	release, err := s.TryLock(ctx, "trends")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}

	if _, err := s.TryLock(ctx, "trends"); !errors.Is(err, ErrJobRunning) {
		t.Errorf("TryLock() while held = %v, want ErrJobRunning", err)
	}

	release()
	release()

	lockState.mu.Lock()
	unlocked := lockState.unlocked - before
	lockState.mu.Unlock()
	if unlocked != 1 {
		t.Errorf("unlock count = %d, want 1", unlocked)
	}

	again, err := s.TryLock(ctx, "trends")
	if err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
	again()
}
