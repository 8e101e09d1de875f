package ha

import (
	"time"

	"github.com/litesql/litesql-go/errors"
)

// Option is a functional option for configuring a DataSource.
//
// Example:
//
//	ds, err := ha.NewDataSource("litesql://db.internal:8080/app.db",
//	    ha.WithToken(token),
//	    ha.WithTimeout(10*time.Second),
//	)
type Option func(*DataSource) error

// WithToken sets the authentication token. When set, every RPC carries an
// "authorization: Bearer <token>" header.
func WithToken(token string) Option {
	return func(ds *DataSource) error {
		ds.token = token
		return nil
	}
}

// WithTLS forces a TLS channel even for a litesql:// URL. A litesqls:// URL
// enables TLS regardless of this option.
func WithTLS(enabled bool) Option {
	return func(ds *DataSource) error {
		ds.useTLS = enabled
		return nil
	}
}

// WithTimeout sets the per-operation RPC timeout.
//
// Default: 30 seconds. Elapsed timeouts surface as Timeout errors.
func WithTimeout(timeout time.Duration) Option {
	return func(ds *DataSource) error {
		if timeout <= 0 {
			return errors.New(errors.InvalidParameter, "configure data source",
				"timeout must be greater than 0")
		}
		ds.timeout = timeout
		return nil
	}
}

// WithReplicaDir names the directory holding locally mirrored replica
// files. Replica routing additionally requires a sync source; without
// WithSyncSource every read goes to the server.
func WithReplicaDir(dir string) Option {
	return func(ds *DataSource) error {
		if dir == "" {
			return errors.New(errors.InvalidParameter, "configure data source",
				"replica directory cannot be empty")
		}
		ds.replicaDir = dir
		return nil
	}
}

// WithSyncSource points the replica registry at the NATS server that drives
// replication. Stream and durable identify the replication stream and the
// durable consumer used by the out-of-band syncer; the registry itself only
// holds the connection and observes the sequence numbers the syncer writes
// into the replica files.
func WithSyncSource(url, stream, durable string) Option {
	return func(ds *DataSource) error {
		if url == "" {
			return errors.New(errors.InvalidParameter, "configure data source",
				"sync source url cannot be empty")
		}
		ds.syncURL = url
		ds.syncStream = stream
		ds.syncDurable = durable
		return nil
	}
}
