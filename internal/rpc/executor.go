// Package rpc implements the remote executor facade: one streaming
// round-trip per statement against the sql.v1.DatabaseService, plus replica
// download support.
//
// The facade is deliberately thin. It encodes parameters, sends exactly one
// request per Query stream (then half-closes), consumes exactly the first
// response, and tracks the highest write sequence the server has reported.
// It performs no retries; transport, status, and server-side SQL failures
// are surfaced untransformed for the caller to classify.
package rpc

import (
	"context"
	"crypto/tls"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/litesql/litesql-go/errors"
	"github.com/litesql/litesql-go/internal/wire"
)

// Fully qualified method names of the sql.v1.DatabaseService.
const (
	methodQuery          = "/sql.v1.DatabaseService/Query"
	methodDownload       = "/sql.v1.DatabaseService/Download"
	methodReplicationIDs = "/sql.v1.DatabaseService/ReplicationIDs"
)

// DefaultPort is used when the server URL carries no port.
const DefaultPort = "8080"

// DefaultTimeout bounds each RPC when no timeout is configured.
const DefaultTimeout = 30 * time.Second

var (
	queryStreamDesc = grpc.StreamDesc{
		StreamName:    "Query",
		ClientStreams: true,
		ServerStreams: true,
	}
	downloadStreamDesc = grpc.StreamDesc{
		StreamName:    "Download",
		ServerStreams: true,
	}
)

// Executor is the remote execution contract consumed by the routing
// connection. Client is the production implementation; tests use the mock in
// this package.
type Executor interface {
	// ExecuteQuery runs a row-returning statement remotely.
	ExecuteQuery(ctx context.Context, sql string, params []wire.Value) (*wire.Result, error)

	// ExecuteUpdate runs a mutating statement remotely and returns the
	// affected-row count.
	ExecuteUpdate(ctx context.Context, sql string, params []wire.Value) (int64, error)

	// ExecuteAny runs a statement of unspecified intent remotely.
	ExecuteAny(ctx context.Context, sql string, params []wire.Value) (*wire.Result, error)

	// TxSeq returns the highest write sequence observed from the server.
	// It never decreases.
	TxSeq() int64

	// ReplicationID returns the logical database this executor targets.
	ReplicationID() string

	// SetReplicationID retargets subsequent statements.
	SetReplicationID(id string)

	// Close releases the underlying channel.
	Close() error
}

// Options configures a Client.
type Options struct {
	// URL of the server, litesql://host[:port]/[replication_id] or
	// litesqls:// for TLS.
	URL string

	// Token, when non-empty, is attached to every RPC as
	// "authorization: Bearer <token>".
	Token string

	// TLS forces a TLS channel even for a litesql:// URL.
	TLS bool

	// Timeout bounds each RPC. Zero means DefaultTimeout.
	Timeout time.Duration
}

// target is the dial destination derived from a server URL.
type target struct {
	addr          string
	replicationID string
	tls           bool
}

// parseTarget resolves a litesql URL into a dial address, the initial
// replication id (the URL path minus its leading slash), and whether the
// channel needs TLS. Host defaults to localhost, port to DefaultPort.
func parseTarget(rawURL string, forceTLS bool) (target, error) {
	s := strings.Replace(rawURL, "litesql://", "http://", 1)
	s = strings.Replace(s, "litesqls://", "https://", 1)

	u, err := url.Parse(s)
	if err != nil {
		return target{}, errors.Wrap(errors.UrlParse, "parse server url", err)
	}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = DefaultPort
	}

	return target{
		addr:          host + ":" + port,
		replicationID: strings.TrimPrefix(u.Path, "/"),
		tls:           forceTLS || u.Scheme == "https",
	}, nil
}

// Client is the gRPC-backed Executor.
//
// The underlying ClientConn multiplexes, so one Client is safe for
// concurrent use; each call opens its own stream. txSeq is advanced with a
// monotone-max compare-and-swap so concurrent responses can never lower it.
type Client struct {
	conn    *grpc.ClientConn
	log     *logrus.Entry
	token   string
	timeout time.Duration

	mu            sync.Mutex
	replicationID string

	txSeq atomic.Int64
}

var _ Executor = (*Client)(nil)

// Dial parses the server URL and opens the channel.
//
// The returned client targets the replication id named by the URL path;
// SetReplicationID retargets it later.
func Dial(opts Options) (*Client, error) {
	t, err := parseTarget(opts.URL, opts.TLS)
	if err != nil {
		return nil, err
	}

	creds := insecure.NewCredentials()
	if t.tls {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	conn, err := grpc.NewClient(t.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec{})),
	)
	if err != nil {
		return nil, errors.Wrap(errors.Transport, "dial server", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		conn:          conn,
		log:           logrus.WithField("component", "litesql"),
		token:         opts.Token,
		timeout:       timeout,
		replicationID: t.replicationID,
	}, nil
}

// ExecuteQuery implements Executor.
func (c *Client) ExecuteQuery(ctx context.Context, sql string, params []wire.Value) (*wire.Result, error) {
	resp, err := c.send(ctx, "execute query", sql, params, wire.QueryTypeExecQuery)
	if err != nil {
		return nil, err
	}
	return c.parseResponse("execute query", resp)
}

// ExecuteUpdate implements Executor.
func (c *Client) ExecuteUpdate(ctx context.Context, sql string, params []wire.Value) (int64, error) {
	resp, err := c.send(ctx, "execute update", sql, params, wire.QueryTypeExecUpdate)
	if err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, errors.New(errors.Query, "execute update", resp.Error)
	}
	return resp.RowsAffected, nil
}

// ExecuteAny implements Executor.
func (c *Client) ExecuteAny(ctx context.Context, sql string, params []wire.Value) (*wire.Result, error) {
	resp, err := c.send(ctx, "execute", sql, params, wire.QueryTypeUnspecified)
	if err != nil {
		return nil, err
	}
	return c.parseResponse("execute", resp)
}

// send performs one Query round-trip: single request, half-close, first
// response. Any further server messages on the stream are abandoned when the
// per-operation context is cancelled on return.
func (c *Client) send(ctx context.Context, op, sql string, params []wire.Value, qt wire.QueryType) (*wire.QueryResponse, error) {
	req := &wire.QueryRequest{
		ReplicationID: c.ReplicationID(),
		SQL:           sql,
		Type:          qt,
		Params:        encodeParams(params),
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &queryStreamDesc, methodQuery)
	if err != nil {
		return nil, rpcError(op, err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, rpcError(op, err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, rpcError(op, err)
	}

	var resp wire.QueryResponse
	if err := stream.RecvMsg(&resp); err != nil {
		if err == io.EOF {
			return nil, errors.New(errors.Query, op, "no response received")
		}
		return nil, rpcError(op, err)
	}

	c.observeTxSeq(resp.TxSeq)
	return &resp, nil
}

// parseResponse rejects server-reported SQL errors and decodes the result
// set. The server error string is carried verbatim.
func (c *Client) parseResponse(op string, resp *wire.QueryResponse) (*wire.Result, error) {
	if resp.Error != "" {
		return nil, errors.New(errors.Query, op, resp.Error)
	}
	result, err := wire.DecodeResult(resp)
	if err != nil {
		return nil, errors.Wrap(errors.TypeConversion, op, err)
	}
	return result, nil
}

// observeTxSeq advances the observed write sequence to seq if it is higher.
// Non-positive sequences carry no information and are ignored.
func (c *Client) observeTxSeq(seq int64) {
	if seq <= 0 {
		return
	}
	for {
		cur := c.txSeq.Load()
		if seq <= cur || c.txSeq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// TxSeq implements Executor.
func (c *Client) TxSeq() int64 {
	return c.txSeq.Load()
}

// ReplicationID implements Executor.
func (c *Client) ReplicationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replicationID
}

// SetReplicationID implements Executor.
func (c *Client) SetReplicationID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replicationID = id
}

// Close implements Executor.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		return errors.Wrap(errors.Transport, "close channel", err)
	}
	return nil
}

// DownloadReplica streams one replica file into dir/id.
//
// An existing file is left untouched unless overwrite is set. Chunks are
// written as they arrive and the file is flushed on completion; a failed
// download leaves no guarantee about partial content.
func (c *Client) DownloadReplica(ctx context.Context, dir, id string, overwrite bool) error {
	path := filepath.Join(dir, id)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.Io, "create replica directory", err)
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &downloadStreamDesc, methodDownload)
	if err != nil {
		return rpcError("download replica", err)
	}
	if err := stream.SendMsg(&wire.DownloadRequest{ReplicationID: id}); err != nil {
		return rpcError("download replica", err)
	}
	if err := stream.CloseSend(); err != nil {
		return rpcError("download replica", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(errors.Io, "create replica file", err)
	}
	defer f.Close()

	for {
		var chunk wire.DownloadResponse
		if err := stream.RecvMsg(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return rpcError("download replica", err)
		}
		if _, err := f.Write(chunk.Data); err != nil {
			return errors.Wrap(errors.Io, "write replica file", err)
		}
	}

	if err := f.Sync(); err != nil {
		return errors.Wrap(errors.Io, "flush replica file", err)
	}

	c.log.WithFields(logrus.Fields{"replica": id, "path": path}).Info("downloaded replica")
	return nil
}

// DownloadAll downloads every replica the server lists, sequentially.
func (c *Client) DownloadAll(ctx context.Context, dir string, overwrite bool) error {
	ids, err := c.ReplicationIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.DownloadReplica(ctx, dir, id, overwrite); err != nil {
			return err
		}
	}
	return nil
}

// ReplicationIDs lists the logical databases the server replicates.
func (c *Client) ReplicationIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	var resp wire.ReplicationIDsResponse
	if err := c.conn.Invoke(ctx, methodReplicationIDs, &wire.Empty{}, &resp); err != nil {
		return nil, rpcError("list replication ids", err)
	}
	return resp.ReplicationID, nil
}

// opContext installs the configured timeout and, when a token is set, the
// bearer authorization metadata.
func (c *Client) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// encodeParams envelopes each parameter with its 1-based ordinal and an
// empty name.
func encodeParams(params []wire.Value) []wire.NamedValue {
	if len(params) == 0 {
		return nil
	}
	out := make([]wire.NamedValue, len(params))
	for i, v := range params {
		out[i] = wire.NamedValue{
			Ordinal: int64(i + 1),
			Value:   wire.Encode(v),
		}
	}
	return out
}

// rpcError classifies a failed RPC: elapsed deadlines are Timeout, an
// unreachable or lost channel is Transport, every other non-OK status is
// Status.
func rpcError(op string, err error) error {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return errors.Wrap(errors.Timeout, op, err)
	case codes.Unavailable:
		return errors.Wrap(errors.Transport, op, err)
	default:
		return errors.Wrap(errors.Status, op, err)
	}
}
