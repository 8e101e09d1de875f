package rpc

import (
	"context"
	"sync"

	"github.com/litesql/litesql-go/errors"
	"github.com/litesql/litesql-go/internal/wire"
)

// MockExecutor is a test double for Executor.
//
// It records every Execute* invocation for verification and replays scripted
// responses in order, enabling routing-connection tests without a server.
type MockExecutor struct {
	mu            sync.Mutex
	calls         []MockCall
	responses     []MockResponse
	replicationID string
	txSeq         int64
	closed        bool
}

// MockCall records a single Execute* invocation.
type MockCall struct {
	SQL    string
	Params []wire.Value
	Type   wire.QueryType
}

// MockResponse scripts the outcome of one Execute* invocation.
type MockResponse struct {
	// Result is returned by ExecuteQuery/ExecuteAny; RowsAffected feeds
	// ExecuteUpdate. A nil Result stands for an empty one.
	Result       *wire.Result
	RowsAffected int64

	// TxSeq, when positive, advances the mock's observed sequence before
	// the response is returned, like a server-reported tx_seq would.
	TxSeq int64

	// Err, when set, is returned instead of the result.
	Err error
}

// NewMockExecutor creates a mock with no scripted responses; unscripted
// calls succeed with an empty result.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

var _ Executor = (*MockExecutor)(nil)

// Enqueue appends a scripted response.
func (m *MockExecutor) Enqueue(r MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, r)
}

// Calls returns a copy of all recorded invocations.
func (m *MockExecutor) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]MockCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns the number of recorded invocations.
func (m *MockExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockExecutor) record(sql string, params []wire.Value, qt wire.QueryType) MockResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{
		SQL:    sql,
		Params: append([]wire.Value(nil), params...), // copy to avoid aliasing
		Type:   qt,
	})

	var resp MockResponse
	if len(m.responses) > 0 {
		resp = m.responses[0]
		m.responses = m.responses[1:]
	}
	if resp.TxSeq > m.txSeq {
		m.txSeq = resp.TxSeq
	}
	return resp
}

// ExecuteQuery implements Executor.
func (m *MockExecutor) ExecuteQuery(_ context.Context, sql string, params []wire.Value) (*wire.Result, error) {
	resp := m.record(sql, params, wire.QueryTypeExecQuery)
	if resp.Err != nil {
		return nil, resp.Err
	}
	if resp.Result == nil {
		return &wire.Result{RowsAffected: resp.RowsAffected}, nil
	}
	return resp.Result, nil
}

// ExecuteUpdate implements Executor.
func (m *MockExecutor) ExecuteUpdate(_ context.Context, sql string, params []wire.Value) (int64, error) {
	resp := m.record(sql, params, wire.QueryTypeExecUpdate)
	if resp.Err != nil {
		return 0, resp.Err
	}
	return resp.RowsAffected, nil
}

// ExecuteAny implements Executor.
func (m *MockExecutor) ExecuteAny(_ context.Context, sql string, params []wire.Value) (*wire.Result, error) {
	resp := m.record(sql, params, wire.QueryTypeUnspecified)
	if resp.Err != nil {
		return nil, resp.Err
	}
	if resp.Result == nil {
		return &wire.Result{RowsAffected: resp.RowsAffected}, nil
	}
	return resp.Result, nil
}

// TxSeq implements Executor.
func (m *MockExecutor) TxSeq() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txSeq
}

// SetTxSeq advances the observed sequence directly, as if a prior call had
// reported it. Lower values are ignored; the sequence never decreases.
func (m *MockExecutor) SetTxSeq(seq int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq > m.txSeq {
		m.txSeq = seq
	}
}

// ReplicationID implements Executor.
func (m *MockExecutor) ReplicationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replicationID
}

// SetReplicationID implements Executor.
func (m *MockExecutor) SetReplicationID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replicationID = id
}

// Close implements Executor.
func (m *MockExecutor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockExecutor) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// QueryErr is a convenience for scripting a server-reported SQL error.
func QueryErr(msg string) error {
	return errors.New(errors.Query, "execute query", msg)
}
