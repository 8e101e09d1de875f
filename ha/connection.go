package ha

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/litesql/litesql-go/errors"
	"github.com/litesql/litesql-go/internal/rpc"
	"github.com/litesql/litesql-go/internal/wire"
)

// replicaSource is the slice of the replica registry the connection needs:
// freshness answers and fresh read-only views. Satisfied by
// *replica.Registry; tests substitute fakes.
type replicaSource interface {
	IsFresh(name string, requiredSeq int64) bool
	OpenReadView(name string) (*sql.DB, error)
}

// Connection is one logical session against the replicated database.
//
// A connection composes a remote executor with an optional replica source.
// Statements classified as reads are served from the local replica when it
// has applied at least the session's observed write sequence; everything
// else, and every read against a lagging replica, goes to the server. A
// replica-serving attempt that fails is reported to the caller, never
// silently retried remotely.
//
// The caller serialises operations on one connection; the internal mutex
// only guards the session flags and is never held across an RPC or a
// replica read.
type Connection struct {
	exec     rpc.Executor
	replicas replicaSource

	mu         sync.Mutex
	readView   *sql.DB
	autoCommit bool
	readOnly   bool
	closed     bool
}

// newConnection builds a session around an executor. When a replica source
// is present, a view of the session's catalog is opened eagerly and held for
// the session's lifetime; per-read views are still opened fresh.
func newConnection(exec rpc.Executor, replicas replicaSource) *Connection {
	c := &Connection{
		exec:       exec,
		replicas:   replicas,
		autoCommit: true,
	}
	if replicas != nil {
		if view, err := replicas.OpenReadView(exec.ReplicationID()); err == nil {
			c.readView = view
		}
	}
	return c
}

// Query executes a row-returning statement.
//
// Read-eligible statements are routed to the local replica when it is fresh
// (applied sequence ≥ the session's observed write sequence, captured once
// per call); otherwise the statement runs remotely with query intent.
func (c *Connection) Query(ctx context.Context, query string, args ...Value) (*Result, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if c.shouldUseReplica(query) {
		return c.queryReplica(ctx, query, args)
	}
	return c.exec.ExecuteQuery(ctx, query, args)
}

// Run executes any statement. Reads route like Query; everything else runs
// remotely with unspecified intent, letting the server classify it.
func (c *Connection) Run(ctx context.Context, query string, args ...Value) (*Result, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if c.shouldUseReplica(query) {
		return c.queryReplica(ctx, query, args)
	}
	return c.exec.ExecuteAny(ctx, query, args)
}

// Execute runs a mutating statement remotely and returns the affected-row
// count. Mutations never touch a replica.
func (c *Connection) Execute(ctx context.Context, query string, args ...Value) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	return c.exec.ExecuteUpdate(ctx, query, args)
}

// shouldUseReplica decides the route for one statement. The executor's write
// sequence is read exactly once; the freshness comparison is ≥, so a replica
// that has caught up to the last confirmed write is eligible.
func (c *Connection) shouldUseReplica(query string) bool {
	if c.replicas == nil || !isReadEligible(query) {
		return false
	}
	txSeq := c.exec.TxSeq()
	return c.replicas.IsFresh(c.exec.ReplicationID(), txSeq)
}

// queryReplica executes the statement on a freshly opened read-only view of
// the session's catalog. Failures propagate; the caller learns the replica
// attempt failed rather than silently paying a remote round-trip.
func (c *Connection) queryReplica(ctx context.Context, query string, args []Value) (*Result, error) {
	view, err := c.replicas.OpenReadView(c.exec.ReplicationID())
	if err != nil {
		return nil, err
	}
	defer view.Close()

	rows, err := view.QueryContext(ctx, query, driverArgs(args)...)
	if err != nil {
		return nil, errors.Wrap(errors.Sqlite, "replica query", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(errors.Sqlite, "replica query", err)
	}

	result := &Result{Columns: columns}
	scan := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range scan {
		ptrs[i] = &scan[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(errors.Sqlite, "replica query", err)
		}
		vals := make([]Value, len(columns))
		for i, raw := range scan {
			vals[i] = fromDriverValue(raw)
		}
		result.Rows = append(result.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.Sqlite, "replica query", err)
	}
	return result, nil
}

// BeginTransaction opens a server-side transaction. The server owns the
// transaction state; the client tracks only the auto-commit flag.
func (c *Connection) BeginTransaction(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if _, err := c.exec.ExecuteUpdate(ctx, "BEGIN", nil); err != nil {
		return err
	}
	c.setAutoCommitFlag(false)
	return nil
}

// Commit commits the current server-side transaction.
func (c *Connection) Commit(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if _, err := c.exec.ExecuteUpdate(ctx, "COMMIT", nil); err != nil {
		return err
	}
	c.setAutoCommitFlag(true)
	return nil
}

// Rollback rolls back the current server-side transaction.
func (c *Connection) Rollback(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if _, err := c.exec.ExecuteUpdate(ctx, "ROLLBACK", nil); err != nil {
		return err
	}
	c.setAutoCommitFlag(true)
	return nil
}

// AutoCommit reports the session's auto-commit flag.
func (c *Connection) AutoCommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoCommit
}

func (c *Connection) setAutoCommitFlag(v bool) {
	c.mu.Lock()
	c.autoCommit = v
	c.mu.Unlock()
}

// SetAutoCommit flips auto-commit mode. Turning it on commits the open
// transaction; turning it off begins one. Setting the current mode is a
// no-op with no RPC.
func (c *Connection) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if autoCommit == c.AutoCommit() {
		return nil
	}

	stmt := "BEGIN"
	if autoCommit {
		stmt = "COMMIT"
	}
	if _, err := c.exec.ExecuteUpdate(ctx, stmt, nil); err != nil {
		return err
	}
	c.setAutoCommitFlag(autoCommit)
	return nil
}

// ReadOnly reports the session's read-only flag.
func (c *Connection) ReadOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnly
}

// SetReadOnly toggles the server session's query_only pragma and records the
// flag.
func (c *Connection) SetReadOnly(ctx context.Context, readOnly bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	pragma := "PRAGMA query_only = 0"
	if readOnly {
		pragma = "PRAGMA query_only = 1"
	}
	if _, err := c.exec.ExecuteUpdate(ctx, pragma, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.readOnly = readOnly
	c.mu.Unlock()
	return nil
}

// IsValid reports whether the session can still reach the server. A closed
// connection is never valid.
func (c *Connection) IsValid(ctx context.Context) bool {
	if c.IsClosed() {
		return false
	}
	_, err := c.exec.ExecuteQuery(ctx, "SELECT 1", nil)
	return err == nil
}

// Catalog returns the session's current replication id.
func (c *Connection) Catalog() string {
	return c.exec.ReplicationID()
}

// SetCatalog retargets the session to another logical database. The empty
// name is rejected. When a replica source is present, the held read view is
// replaced by a fresh view of the new catalog; a catalog with no local
// replica simply leaves the session without one.
func (c *Connection) SetCatalog(catalog string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if catalog == "" {
		return errors.New(errors.InvalidParameter, "set catalog", "catalog cannot be empty")
	}

	c.exec.SetReplicationID(catalog)

	if c.replicas != nil {
		var view *sql.DB
		if v, err := c.replicas.OpenReadView(catalog); err == nil {
			view = v
		}
		c.mu.Lock()
		old := c.readView
		c.readView = view
		c.mu.Unlock()
		if old != nil {
			old.Close()
		}
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New(errors.ConnectionClosed, "connection", "connection is closed")
	}
	return nil
}

// Close shuts the session down: the held read view is dropped and the RPC
// channel released. Close is idempotent and never fails; every subsequent
// operation reports the connection as closed. The shared replica registry is
// owned by the data source and is not touched.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	view := c.readView
	c.readView = nil
	c.mu.Unlock()

	if view != nil {
		view.Close()
	}
	c.exec.Close()
	return nil
}

// driverArgs converts parameter Values to database/sql arguments for the
// local engine. Timestamps bind as epoch seconds, matching how the remote
// stores them.
func driverArgs(args []Value) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, len(args))
	for i, v := range args {
		switch v.Type() {
		case wire.TypeNull:
			out[i] = nil
		case wire.TypeBool:
			out[i] = v.Bool()
		case wire.TypeInt32:
			out[i] = int64(v.Int32())
		case wire.TypeInt64:
			out[i] = v.Int64()
		case wire.TypeFloat:
			out[i] = float64(v.Float())
		case wire.TypeDouble:
			out[i] = v.Double()
		case wire.TypeString:
			out[i] = v.Text()
		case wire.TypeBytes:
			out[i] = v.Blob()
		case wire.TypeTimestamp:
			seconds, _ := v.Timestamp()
			out[i] = seconds
		}
	}
	return out
}

// fromDriverValue converts a scanned column back to a Value. SQLite's
// dynamic typing yields integers, reals, text, blobs, and NULL; the driver
// may add bools and times for declared column types.
func fromDriverValue(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(v)
	case int64:
		return Int64(v)
	case float64:
		return Double(v)
	case string:
		return String(v)
	case []byte:
		return Bytes(v)
	case time.Time:
		return Time(v)
	default:
		return String(fmt.Sprint(v))
	}
}
