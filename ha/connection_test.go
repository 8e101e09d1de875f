package ha

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/litesql/litesql-go/errors"
	"github.com/litesql/litesql-go/internal/rpc"
	"github.com/litesql/litesql-go/internal/wire"
)

// fakeReplicas is a replicaSource backed by one real SQLite file, with a
// settable applied sequence.
type fakeReplicas struct {
	appliedSeq int64
	path       string
	openErr    error
}

func (f *fakeReplicas) IsFresh(_ string, requiredSeq int64) bool {
	return f.appliedSeq >= requiredSeq
}

func (f *fakeReplicas) OpenReadView(_ string) (*sql.DB, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return sql.Open("sqlite3", "file:"+f.path+"?mode=ro&_mutex=no")
}

// newReplicaFile creates a SQLite file with a users table for local reads.
func newReplicaFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatalf("open replica file: %v", err)
	}
	defer db.Close()

	stmts := []string{
		"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)",
		"INSERT INTO users (id, name) VALUES (1, 'Alice'), (2, 'Bob')",
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	return path
}

// TestQuery_SimpleRoundTrip covers the plain remote read: one RPC with
// query intent, decoded columns and rows handed back.
func TestQuery_SimpleRoundTrip(t *testing.T) {
	mock := rpc.NewMockExecutor()
	mock.Enqueue(rpc.MockResponse{Result: &wire.Result{
		Columns: []string{"value"},
		Rows:    [][]Value{{Int64(1)}},
	}})
	conn := newConnection(mock, nil)
	defer conn.Close()

	result, err := conn.Query(t.Context(), "SELECT 1 as value")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(result.Columns) != 1 || result.Columns[0] != "value" {
		t.Errorf("columns = %v, want [value]", result.Columns)
	}
	if result.RowCount() != 1 || !result.Rows[0][0].Equal(Int64(1)) {
		t.Errorf("rows = %v, want [[int64(1)]]", result.Rows)
	}
	if result.RowsAffected != 0 {
		t.Errorf("rows affected = %d, want 0", result.RowsAffected)
	}

	calls := mock.Calls()
	if len(calls) != 1 || calls[0].Type != wire.QueryTypeExecQuery {
		t.Fatalf("calls = %+v, want one query-intent call", calls)
	}
}

// TestExecute_ParameterisedUpdate covers the remote write path: update
// intent, parameters forwarded in order, affected count returned.
func TestExecute_ParameterisedUpdate(t *testing.T) {
	mock := rpc.NewMockExecutor()
	mock.Enqueue(rpc.MockResponse{RowsAffected: 1, TxSeq: 1})
	conn := newConnection(mock, nil)
	defer conn.Close()

	affected, err := conn.Execute(t.Context(),
		"INSERT INTO users(name,email) VALUES (?,?)",
		String("Alice"), String("alice@example.com"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if affected != 1 {
		t.Errorf("rows affected = %d, want 1", affected)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].Type != wire.QueryTypeExecUpdate {
		t.Errorf("intent = %d, want update", calls[0].Type)
	}
	if len(calls[0].Params) != 2 ||
		!calls[0].Params[0].Equal(String("Alice")) ||
		!calls[0].Params[1].Equal(String("alice@example.com")) {
		t.Errorf("params = %v, want [Alice alice@example.com]", calls[0].Params)
	}
}

// TestQuery_ReplicaFreshness covers the routing decision: a fresh replica
// (applied ≥ observed write sequence) serves the read with no RPC, and the
// moment the session observes a newer write the same read goes remote.
func TestQuery_ReplicaFreshness(t *testing.T) {
	replicas := &fakeReplicas{appliedSeq: 10, path: newReplicaFile(t)}
	mock := rpc.NewMockExecutor()
	mock.SetTxSeq(10)
	conn := newConnection(mock, replicas)
	defer conn.Close()

	result, err := conn.Query(t.Context(), "SELECT * FROM users ORDER BY id")
	if err != nil {
		t.Fatalf("local query failed: %v", err)
	}
	if mock.CallCount() != 0 {
		t.Fatalf("remote consulted %d times for a fresh replica, want 0", mock.CallCount())
	}
	if result.RowCount() != 2 {
		t.Errorf("rows = %d, want 2", result.RowCount())
	}
	if len(result.Columns) != 2 || result.Columns[0] != "id" || result.Columns[1] != "name" {
		t.Errorf("columns = %v, want [id name]", result.Columns)
	}
	if !result.Rows[0][0].Equal(Int64(1)) || !result.Rows[0][1].Equal(String("Alice")) {
		t.Errorf("first row = %v, want [int64(1) string(Alice)]", result.Rows[0])
	}

	// A write the replica has not applied forces the next read remote.
	mock.SetTxSeq(11)
	if _, err := conn.Query(t.Context(), "SELECT * FROM users ORDER BY id"); err != nil {
		t.Fatalf("remote query failed: %v", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("remote consulted %d times for a stale replica, want 1", mock.CallCount())
	}
}

// TestQuery_NonReadAlwaysRemote covers the complementary property: a
// non-read statement consults the remote regardless of replica state.
func TestQuery_NonReadAlwaysRemote(t *testing.T) {
	replicas := &fakeReplicas{appliedSeq: 100, path: newReplicaFile(t)}
	mock := rpc.NewMockExecutor()
	conn := newConnection(mock, replicas)
	defer conn.Close()

	if _, err := conn.Run(t.Context(), "INSERT INTO users (name) VALUES ('x')"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := conn.Execute(t.Context(), "DELETE FROM users"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if mock.CallCount() != 2 {
		t.Errorf("remote consulted %d times, want 2", mock.CallCount())
	}
}

// TestQuery_ReplicaErrorPropagates validates the no-silent-fallback rule:
// when the replica-serving attempt fails, the caller sees the failure
// rather than a transparent remote retry.
func TestQuery_ReplicaErrorPropagates(t *testing.T) {
	replicas := &fakeReplicas{appliedSeq: 10, path: newReplicaFile(t)}
	mock := rpc.NewMockExecutor()
	conn := newConnection(mock, replicas)
	defer conn.Close()

	_, err := conn.Query(t.Context(), "SELECT nope FROM missing_table")
	if err == nil {
		t.Fatal("replica query of missing table succeeded")
	}
	if !errors.Is(err, errors.Sqlite) {
		t.Errorf("error kind = %v, want Sqlite", errors.KindOf(err))
	}
	if mock.CallCount() != 0 {
		t.Errorf("remote consulted %d times after replica failure, want 0", mock.CallCount())
	}
}

// TestTransactions covers the flag transitions: each one issues exactly one
// RPC carrying the literal statement.
func TestTransactions(t *testing.T) {
	mock := rpc.NewMockExecutor()
	conn := newConnection(mock, nil)
	defer conn.Close()

	if !conn.AutoCommit() {
		t.Fatal("auto-commit should default to true")
	}

	if err := conn.BeginTransaction(t.Context()); err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	if conn.AutoCommit() {
		t.Error("auto-commit still true after begin")
	}

	if err := conn.Commit(t.Context()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if !conn.AutoCommit() {
		t.Error("auto-commit false after commit")
	}

	if err := conn.BeginTransaction(t.Context()); err != nil {
		t.Fatalf("second BeginTransaction failed: %v", err)
	}
	if err := conn.Rollback(t.Context()); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if !conn.AutoCommit() {
		t.Error("auto-commit false after rollback")
	}

	want := []string{"BEGIN", "COMMIT", "BEGIN", "ROLLBACK"}
	calls := mock.Calls()
	if len(calls) != len(want) {
		t.Fatalf("calls = %d, want %d", len(calls), len(want))
	}
	for i, w := range want {
		if calls[i].SQL != w {
			t.Errorf("call %d = %q, want %q", i, calls[i].SQL, w)
		}
	}
}

// TestSetAutoCommit covers the no-op and transition rules.
func TestSetAutoCommit(t *testing.T) {
	mock := rpc.NewMockExecutor()
	conn := newConnection(mock, nil)
	defer conn.Close()

	// Setting the current mode issues no RPC.
	if err := conn.SetAutoCommit(t.Context(), true); err != nil {
		t.Fatalf("SetAutoCommit(true) failed: %v", err)
	}
	if mock.CallCount() != 0 {
		t.Errorf("no-op SetAutoCommit issued %d RPCs", mock.CallCount())
	}

	// Turning auto-commit off begins a transaction.
	if err := conn.SetAutoCommit(t.Context(), false); err != nil {
		t.Fatalf("SetAutoCommit(false) failed: %v", err)
	}
	// Turning it back on commits.
	if err := conn.SetAutoCommit(t.Context(), true); err != nil {
		t.Fatalf("SetAutoCommit(true) failed: %v", err)
	}

	calls := mock.Calls()
	if len(calls) != 2 || calls[0].SQL != "BEGIN" || calls[1].SQL != "COMMIT" {
		t.Errorf("calls = %+v, want [BEGIN COMMIT]", calls)
	}
}

// TestSetReadOnly validates the pragma round-trip and flag.
func TestSetReadOnly(t *testing.T) {
	mock := rpc.NewMockExecutor()
	conn := newConnection(mock, nil)
	defer conn.Close()

	if conn.ReadOnly() {
		t.Fatal("read-only should default to false")
	}

	if err := conn.SetReadOnly(t.Context(), true); err != nil {
		t.Fatalf("SetReadOnly failed: %v", err)
	}
	if !conn.ReadOnly() {
		t.Error("read-only flag not recorded")
	}

	if err := conn.SetReadOnly(t.Context(), false); err != nil {
		t.Fatalf("SetReadOnly(false) failed: %v", err)
	}

	calls := mock.Calls()
	if len(calls) != 2 ||
		calls[0].SQL != "PRAGMA query_only = 1" ||
		calls[1].SQL != "PRAGMA query_only = 0" {
		t.Errorf("calls = %+v, want query_only pragmas", calls)
	}
}

// TestIsValid validates liveness probing.
func TestIsValid(t *testing.T) {
	mock := rpc.NewMockExecutor()
	conn := newConnection(mock, nil)

	if !conn.IsValid(t.Context()) {
		t.Error("open connection with healthy executor should be valid")
	}
	calls := mock.Calls()
	if len(calls) != 1 || calls[0].SQL != "SELECT 1" {
		t.Errorf("calls = %+v, want one SELECT 1", calls)
	}

	mock.Enqueue(rpc.MockResponse{Err: rpc.QueryErr("gone")})
	if conn.IsValid(t.Context()) {
		t.Error("failing probe should report invalid")
	}

	conn.Close()
	if conn.IsValid(t.Context()) {
		t.Error("closed connection should report invalid")
	}
}

// TestCatalog validates catalog reads and writes.
func TestCatalog(t *testing.T) {
	mock := rpc.NewMockExecutor()
	mock.SetReplicationID("app.db")
	conn := newConnection(mock, nil)
	defer conn.Close()

	if conn.Catalog() != "app.db" {
		t.Errorf("catalog = %q, want app.db", conn.Catalog())
	}

	if err := conn.SetCatalog("other.db"); err != nil {
		t.Fatalf("SetCatalog failed: %v", err)
	}
	if conn.Catalog() != "other.db" {
		t.Errorf("catalog = %q, want other.db", conn.Catalog())
	}

	err := conn.SetCatalog("")
	if err == nil {
		t.Fatal("SetCatalog accepted an empty name")
	}
	if !errors.Is(err, errors.InvalidParameter) {
		t.Errorf("error kind = %v, want InvalidParameter", errors.KindOf(err))
	}
}

// TestClose covers closed-connection rejection and idempotency.
func TestClose(t *testing.T) {
	mock := rpc.NewMockExecutor()
	conn := newConnection(mock, nil)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !conn.IsClosed() {
		t.Error("IsClosed false after close")
	}
	if !mock.Closed() {
		t.Error("executor not released on close")
	}

	assertClosed := func(name string, err error) {
		t.Helper()
		if !errors.Is(err, errors.ConnectionClosed) {
			t.Errorf("%s after close = %v, want ConnectionClosed", name, err)
		}
	}

	_, err := conn.Query(t.Context(), "SELECT 1")
	assertClosed("Query", err)
	_, err = conn.Run(t.Context(), "SELECT 1")
	assertClosed("Run", err)
	_, err = conn.Execute(t.Context(), "DELETE FROM t")
	assertClosed("Execute", err)
	assertClosed("BeginTransaction", conn.BeginTransaction(t.Context()))
	assertClosed("Commit", conn.Commit(t.Context()))
	assertClosed("Rollback", conn.Rollback(t.Context()))
	assertClosed("SetAutoCommit", conn.SetAutoCommit(t.Context(), false))
	assertClosed("SetReadOnly", conn.SetReadOnly(t.Context(), true))
	assertClosed("SetCatalog", conn.SetCatalog("x"))

	// Close again succeeds.
	if err := conn.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

// TestQuery_ServerError validates that server-reported SQL failures reach
// the caller verbatim with Query kind.
func TestQuery_ServerError(t *testing.T) {
	mock := rpc.NewMockExecutor()
	mock.Enqueue(rpc.MockResponse{Err: rpc.QueryErr("no such table: ghosts")})
	conn := newConnection(mock, nil)
	defer conn.Close()

	_, err := conn.Query(t.Context(), "SELECT * FROM ghosts")
	if err == nil {
		t.Fatal("Query succeeded, want server error")
	}
	if !errors.Is(err, errors.Query) {
		t.Errorf("error kind = %v, want Query", errors.KindOf(err))
	}
}
