package ssh

import (
	"sync"

	"ssh-commander/internal/errors"
	"ssh-commander/internal/logging"
)

type record struct {
	conn     Conn
	sessions []Session
}

// Registry tracks every connection and session opened during a run so they
// can all be torn down on any exit path.
type Registry struct {
	mu      sync.Mutex
	records []*record
	logger  *logging.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{logger: logger}
}

// Track records sess as opened on conn. A nil session records the connection alone.
func (r *Registry) Track(conn Conn, sess Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rec *record
	for _, existing := range r.records {
		if existing.conn == conn {
			rec = existing
			break
		}
	}
	if rec == nil {
		rec = &record{conn: conn}
		r.records = append(r.records, rec)
	}
	if sess != nil {
		rec.sessions = append(rec.sessions, sess)
	}
}

// Len returns the number of tracked connections
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// CloseAll closes every tracked session, then its connection, and clears the
// registry. Failures are logged as cleanup errors and never returned.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	records := r.records
	r.records = nil
	r.mu.Unlock()

	for _, rec := range records {
		host := rec.conn.Host()
		for _, sess := range rec.sessions {
			if err := sess.Close(); err != nil {
				r.logger.LogCleanupError(&errors.CleanupError{Resource: "session", Host: host, Err: err})
			}
		}
		if err := rec.conn.Close(); err != nil {
			r.logger.LogCleanupError(&errors.CleanupError{Resource: "connection", Host: host, Err: err})
		}
	}
}
