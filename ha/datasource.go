package ha

import (
	"context"
	"sync"
	"time"

	"github.com/litesql/litesql-go/errors"
	"github.com/litesql/litesql-go/internal/replica"
	"github.com/litesql/litesql-go/internal/rpc"
)

// DataSource is the connection factory. It owns the server coordinates and,
// when replication is configured, the replica registry shared by every
// connection it creates. The registry outlives any single connection; close
// the data source to release it.
type DataSource struct {
	url     string
	token   string
	useTLS  bool
	timeout time.Duration

	replicaDir  string
	syncURL     string
	syncStream  string
	syncDurable string

	mu       sync.Mutex
	registry *replica.Registry
}

// NewDataSource creates a data source for the given litesql:// or
// litesqls:// URL. The URL path, minus its leading slash, names the initial
// catalog of every connection.
func NewDataSource(url string, opts ...Option) (*DataSource, error) {
	if url == "" {
		return nil, errors.New(errors.InvalidParameter, "configure data source",
			"server url cannot be empty")
	}

	ds := &DataSource{url: url}
	for _, opt := range opts {
		if err := opt(ds); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Connect opens a new session.
//
// Each session gets its own RPC channel and write-sequence high-water mark.
// When replication is configured, the shared registry is loaded (idempotently)
// before the first session is handed out; a registry load failure aborts the
// connect so the caller never gets a session with half-initialised replicas.
func (ds *DataSource) Connect(ctx context.Context) (*Connection, error) {
	client, err := rpc.Dial(rpc.Options{
		URL:     ds.url,
		Token:   ds.token,
		TLS:     ds.useTLS,
		Timeout: ds.timeout,
	})
	if err != nil {
		return nil, err
	}

	if ds.replicaDir == "" || ds.syncURL == "" {
		return newConnection(client, nil), nil
	}

	registry, err := ds.ensureRegistry(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	return newConnection(client, registry), nil
}

// ensureRegistry creates the shared registry on first use and (re)loads the
// replica directory. Load skips files it already holds, so repeated connects
// only pick up new replica files.
func (ds *DataSource) ensureRegistry(ctx context.Context) (*replica.Registry, error) {
	ds.mu.Lock()
	if ds.registry == nil {
		ds.registry = replica.New()
	}
	registry := ds.registry
	ds.mu.Unlock()

	err := registry.Load(ctx, replica.Options{
		Directory: ds.replicaDir,
		SyncURL:   ds.syncURL,
		Stream:    ds.syncStream,
		Durable:   ds.syncDurable,
	})
	if err != nil {
		return nil, err
	}
	return registry, nil
}

// DownloadReplicas fetches every replica the server lists into dir,
// sequentially. Existing files are kept unless overwrite is set.
func (ds *DataSource) DownloadReplicas(ctx context.Context, dir string, overwrite bool) error {
	client, err := rpc.Dial(rpc.Options{
		URL:     ds.url,
		Token:   ds.token,
		TLS:     ds.useTLS,
		Timeout: ds.timeout,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	return client.DownloadAll(ctx, dir, overwrite)
}

// Close releases the shared replica registry. Connections remain usable for
// remote execution but lose replica routing.
func (ds *DataSource) Close() {
	ds.mu.Lock()
	registry := ds.registry
	ds.registry = nil
	ds.mu.Unlock()

	if registry != nil {
		registry.Close()
	}
}
