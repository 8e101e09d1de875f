// Package replica owns the local read-only replica files and their
// freshness bookkeeping.
//
// The registry discovers SQLite files in a directory, keeps one read-write
// bookkeeping handle per file, and refreshes each replica's applied write
// sequence every five seconds from the ha_stats table inside the file. An
// out-of-band replication consumer writes into the files; the registry never
// fabricates a sequence, it only observes what has durably landed. A file
// without the bookkeeping table reports sequence 0, which forces every read
// to the remote.
//
// Registries are shared: one registry serves all sessions of a data source
// and outlives any single connection.
package replica

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 database/sql driver
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/litesql/litesql-go/errors"
)

// sqliteMagic is the 16-byte header prefix of every SQLite 3 database file,
// including the trailing NUL.
// https://www.sqlite.org/fileformat.html#the_database_header
const sqliteMagic = "SQLite format 3\x00"

// minFileSize is the size of the SQLite database header; a shorter file
// cannot be a database.
const minFileSize = 100

// appliedSeqQuery reads the newest replicated write sequence recorded in the
// file by the replication consumer.
const appliedSeqQuery = "SELECT received_seq FROM ha_stats ORDER BY updated_at DESC LIMIT 1"

// refreshInterval is the cadence of the applied-sequence refresh task.
const refreshInterval = 5 * time.Second

// Options configures a registry load.
type Options struct {
	// Directory containing replica files, one per replication id.
	Directory string

	// SyncURL is the NATS server driving replication. The registry holds
	// the connection open for its lifetime; it does not consume messages
	// itself.
	SyncURL string

	// Stream and Durable identify the replication stream and consumer for
	// the out-of-band syncer.
	Stream  string
	Durable string
}

// Handle is one loaded replica. It is owned by the registry; callers receive
// read-only views via OpenReadView, never the bookkeeping handle itself.
type Handle struct {
	// Name keys the handle: the file name, which equals the replication id.
	Name string

	// Path is the absolute or directory-relative file path.
	Path string

	db         *sql.DB
	appliedSeq atomic.Int64
}

// AppliedSeq returns the replica's durably applied write sequence. It never
// decreases.
func (h *Handle) AppliedSeq() int64 {
	return h.appliedSeq.Load()
}

// observe advances the applied sequence; lower observations are dropped so
// the sequence stays monotone even if the bookkeeping row regresses.
func (h *Handle) observe(seq int64) {
	for {
		cur := h.appliedSeq.Load()
		if seq <= cur || h.appliedSeq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Registry tracks loaded replicas and runs the refresh task.
//
// The map supports concurrent readers with single-writer inserts; the
// refresh task snapshots handles under the read lock and queries each file
// without holding any lock.
type Registry struct {
	log *logrus.Entry

	mu       sync.RWMutex
	replicas map[string]*Handle

	running atomic.Bool
	stop    chan struct{}
	done    sync.WaitGroup

	syncConn *nats.Conn
}

// New creates an empty registry. Call Load to populate it.
func New() *Registry {
	return &Registry{
		log:      logrus.WithField("component", "litesql"),
		replicas: make(map[string]*Handle),
	}
}

// Load scans the directory, opens a bookkeeping handle for every SQLite file
// found, connects the sync source, and starts the refresh task.
//
// Load is idempotent with respect to already-loaded files: files whose names
// are present are skipped, and a running refresh task is reused. Directory
// enumeration failures abort the load; per-file failures are logged and
// skipped, leaving that replica unavailable locally.
func (r *Registry) Load(ctx context.Context, opts Options) error {
	info, err := os.Stat(opts.Directory)
	if err != nil || !info.IsDir() {
		return errors.New(errors.InvalidParameter, "replica load",
			"replica directory does not exist: "+opts.Directory)
	}

	if opts.SyncURL != "" {
		if err := r.connectSync(opts.SyncURL); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(opts.Directory)
	if err != nil {
		return errors.Wrap(errors.Io, "replica load", err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(opts.Directory, name)

		if r.has(name) {
			continue
		}
		if !isSQLiteFile(path) {
			continue
		}

		handle, err := openHandle(ctx, name, path)
		if err != nil {
			r.log.WithFields(logrus.Fields{"replica": name, "err": err}).
				Error("failed to load replica")
			continue
		}

		r.mu.Lock()
		r.replicas[name] = handle
		r.mu.Unlock()
		r.log.WithField("replica", name).Info("loaded replica")
	}

	if r.running.CompareAndSwap(false, true) {
		r.stop = make(chan struct{})
		r.done.Add(1)
		go r.refreshLoop()
	}
	return nil
}

// connectSync opens the sync-source connection if none is held yet.
func (r *Registry) connectSync(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.syncConn != nil {
		return nil
	}
	nc, err := nats.Connect(url, nats.Name("litesql-replica-sync"))
	if err != nil {
		return errors.Wrap(errors.Sync, "connect sync source", err)
	}
	r.syncConn = nc
	return nil
}

func (r *Registry) has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.replicas[name]
	return ok
}

// Len returns the number of loaded replicas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.replicas)
}

// Get returns the handle for name. When the registry holds exactly one
// replica and name is empty, that replica is returned; single-database
// deployments need no catalog configuration.
func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" && len(r.replicas) == 1 {
		for _, h := range r.replicas {
			return h, true
		}
	}
	h, ok := r.replicas[name]
	return h, ok
}

// OpenReadView opens a fresh read-only, no-mutex connection to the replica
// file. The caller owns the returned view and must close it.
func (r *Registry) OpenReadView(name string) (*sql.DB, error) {
	h, ok := r.Get(name)
	if !ok {
		return nil, errors.New(errors.InvalidParameter, "open read view",
			"no replica loaded for "+name)
	}
	db, err := sql.Open("sqlite3", "file:"+h.Path+"?mode=ro&_mutex=no")
	if err != nil {
		return nil, errors.Wrap(errors.Sqlite, "open read view", err)
	}
	return db, nil
}

// IsFresh reports whether the named replica has durably applied at least
// requiredSeq. An absent replica is never fresh. Equal sequences are fresh.
func (r *Registry) IsFresh(name string, requiredSeq int64) bool {
	h, ok := r.Get(name)
	if !ok {
		return false
	}
	return h.AppliedSeq() >= requiredSeq
}

// Close stops the refresh task, drops every handle, and releases the sync
// source. The teardown order matters: the running flag falls first, then the
// task is signalled and awaited, then the map is cleared, so the task can
// never observe a half-torn-down registry.
func (r *Registry) Close() {
	if r.running.CompareAndSwap(true, false) {
		close(r.stop)
		r.done.Wait()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.replicas {
		h.db.Close()
	}
	r.replicas = make(map[string]*Handle)

	if r.syncConn != nil {
		r.syncConn.Close()
		r.syncConn = nil
	}
}

// refreshLoop re-reads every replica's applied sequence on each tick until
// Close signals. No lock is held across the tick sleep or across the
// per-file queries.
func (r *Registry) refreshLoop() {
	defer r.done.Done()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if !r.running.Load() {
				return
			}
			r.refresh()
		}
	}
}

// refresh snapshots the handles and re-reads each file's bookkeeping row.
// A failed read leaves the prior sequence unchanged.
func (r *Registry) refresh() {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.replicas))
	for _, h := range r.replicas {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		var seq int64
		if err := h.db.QueryRow(appliedSeqQuery).Scan(&seq); err != nil {
			continue
		}
		h.observe(seq)
	}
}

// openHandle opens the read-write bookkeeping handle for one replica file:
// WAL journal so the replication consumer can write while we read, memory
// temp store, and a 5 second busy timeout. The initial applied sequence is
// read immediately; a file without the ha_stats table starts at 0.
func openHandle(ctx context.Context, name, path string) (*Handle, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(errors.Sqlite, "open replica", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA temp_store = MEMORY"); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.Sqlite, "open replica", err)
	}

	h := &Handle{Name: name, Path: path, db: db}

	var seq int64
	if err := db.QueryRowContext(ctx, appliedSeqQuery).Scan(&seq); err == nil {
		h.observe(seq)
	}
	return h, nil
}

// isSQLiteFile reports whether path is a plausible SQLite 3 database: at
// least the 100-byte header page, beginning with the format magic.
func isSQLiteFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() < minFileSize {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return string(header) == sqliteMagic
}
