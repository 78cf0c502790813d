package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordedStmt struct {
	query string
	args  []driver.NamedValue
}

// scriptedConn answers every statement through execFn and queryFn and keeps
// a record of what gorm sent.
type scriptedConn struct {
	mu    sync.Mutex
	stmts []recordedStmt

	execFn  func(query string, args []driver.NamedValue) (driver.Result, error)
	queryFn func(query string, args []driver.NamedValue) (driver.Rows, error)
}

func (c *scriptedConn) record(query string, args []driver.NamedValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stmts = append(c.stmts, recordedStmt{query: query, args: append([]driver.NamedValue(nil), args...)})
}

func (c *scriptedConn) statements() []recordedStmt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recordedStmt(nil), c.stmts...)
}

func (c *scriptedConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.record(query, args)
	if c.execFn == nil {
		return driver.RowsAffected(0), nil
	}
	return c.execFn(query, args)
}

func (c *scriptedConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.record(query, args)
	if c.queryFn == nil {
		return &scriptedRows{}, nil
	}
	return c.queryFn(query, args)
}

func (c *scriptedConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements are not supported")
}

func (c *scriptedConn) Close() error { return nil }

func (c *scriptedConn) Begin() (driver.Tx, error) { return scriptedTx{}, nil }

type scriptedTx struct{}

func (scriptedTx) Commit() error   { return nil }
func (scriptedTx) Rollback() error { return nil }

type scriptedConnector struct {
	conn *scriptedConn
}

func (c scriptedConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }

func (c scriptedConnector) Driver() driver.Driver { return scriptedDriver{} }

type scriptedDriver struct{}

func (scriptedDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("open by name is not supported")
}

type scriptedRows struct {
	columns []string
	values  [][]driver.Value
	next    int
}

func (r *scriptedRows) Columns() []string { return r.columns }

func (r *scriptedRows) Close() error { return nil }

func (r *scriptedRows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}

func countRows(n int64) *scriptedRows {
	return &scriptedRows{columns: []string{"count"}, values: [][]driver.Value{{n}}}
}

func newTestDB(t *testing.T, conn *scriptedConn) *gorm.DB {
	t.Helper()

	sqlDB := sql.OpenDB(scriptedConnector{conn: conn})
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}
	return db
}

func lastStatement(t *testing.T, conn *scriptedConn) recordedStmt {
	t.Helper()

	stmts := conn.statements()
	if len(stmts) == 0 {
		t.Fatal("no statement was sent")
	}
	return stmts[len(stmts)-1]
}

func requireContains(t *testing.T, query string, parts ...string) {
	t.Helper()

	for _, p := range parts {
		if !strings.Contains(query, p) {
			t.Fatalf("query %q does not contain %q", query, p)
		}
	}
}

func argValues(args []driver.NamedValue) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		out = append(out, a.Value)
	}
	return out
}
