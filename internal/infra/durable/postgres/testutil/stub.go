// Package testutil provides a stub database/sql driver for postgres durable
// store tests. It understands the small SQL dialect the store emits.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Uint64

// StubConn records statements and keeps table rows in memory.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string][]map[string]any
	FailPing   bool
	FailExec   bool
	RowsErr    error
	FailTables map[string]bool
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", driverSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns a copy of the rows stored in table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(upper, "INSERT INTO") {
		return driver.RowsAffected(0), nil
	}
	table, cols, err := parseInsert(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("exec fail for %s", table)
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	keys := conflictColumns(query)
	if len(keys) == 0 {
		c.Tables[table] = append(c.Tables[table], row)
		return driver.RowsAffected(1), nil
	}
	guarded := strings.Contains(upper, ".VERSION < EXCLUDED.VERSION")
	for i, existing := range c.Tables[table] {
		if !sameKey(existing, row, keys) {
			continue
		}
		if guarded && !newer(row["version"], existing["version"]) {
			return driver.RowsAffected(0), nil
		}
		c.Tables[table][i] = row
		return driver.RowsAffected(1), nil
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext for
// SELECT cols FROM table [WHERE col = $n [AND ...]] [ORDER BY col].
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sel, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[sel.table] {
		return nil, fmt.Errorf("query fail for %s", sel.table)
	}
	var matched []map[string]any
	for _, row := range c.Tables[sel.table] {
		ok := true
		for col, idx := range sel.where {
			if idx >= len(args) || row[col] != args[idx].Value {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, row)
		}
	}
	if sel.orderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return fmt.Sprint(matched[i][sel.orderBy]) < fmt.Sprint(matched[j][sel.orderBy])
		})
	}
	values := make([][]driver.Value, 0, len(matched))
	for _, row := range matched {
		vals := make([]driver.Value, len(sel.cols))
		for i, col := range sel.cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: sel.cols, rows: values, err: c.RowsErr}, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func sameKey(a, b map[string]any, keys []string) bool {
	for _, k := range keys {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

func newer(next, current any) bool {
	n, ok1 := next.(int64)
	c, ok2 := current.(int64)
	if !ok1 || !ok2 {
		return true
	}
	return n > c
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	return table, splitColumns(rest[open+1 : closeIdx]), nil
}

func conflictColumns(query string) []string {
	up := strings.ToUpper(query)
	idx := strings.Index(up, "ON CONFLICT")
	if idx == -1 {
		return nil
	}
	rest := query[idx+len("ON CONFLICT"):]
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx <= open {
		return nil
	}
	return splitColumns(rest[open+1 : closeIdx])
}

type selectStmt struct {
	table   string
	cols    []string
	where   map[string]int
	orderBy string
}

func parseSelect(query string) (selectStmt, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(lower, "select ") {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, " from ")
	if fromIdx == -1 {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	out := selectStmt{cols: splitColumns(lower[len("select "):fromIdx]), where: map[string]int{}}
	rest := strings.TrimSpace(lower[fromIdx+len(" from "):])
	if i := strings.Index(rest, " order by "); i != -1 {
		out.orderBy = strings.TrimSpace(rest[i+len(" order by "):])
		rest = rest[:i]
	}
	if i := strings.Index(rest, " where "); i != -1 {
		for _, cond := range strings.Split(rest[i+len(" where "):], " and ") {
			parts := strings.SplitN(cond, "=", 2)
			if len(parts) != 2 {
				return selectStmt{}, fmt.Errorf("cannot parse predicate %q", cond)
			}
			var n int
			if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "$%d", &n); err != nil || n < 1 {
				return selectStmt{}, fmt.Errorf("cannot parse placeholder %q", parts[1])
			}
			out.where[strings.TrimSpace(parts[0])] = n - 1
		}
		rest = rest[:i]
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	out.table = fields[0]
	return out, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
