package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/knxbridge/internal/busclient"
)

// execTimeout bounds one upsert. Events arrive on the bus monitor goroutine,
// so a locked database must not stall routing for long.
const execTimeout = 2 * time.Second

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("recorder: stopped")

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Recorder passively records the group addresses and source devices seen on
// the bus. Register it with busclient.Client.AddObserver.
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	db     *sql.DB
	logger Logger

	mu         sync.Mutex
	gaStmt     *sql.Stmt
	deviceStmt *sql.Stmt
	stopped    bool
}

// New creates a recorder on db. The knx_group_addresses and knx_devices
// tables must exist (see the migrations package).
func New(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the upsert statements. Events seen before Start are dropped.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrStopped
	}
	if r.gaStmt != nil {
		return nil
	}

	gaStmt, err := r.db.PrepareContext(ctx, `
		INSERT INTO knx_group_addresses
			(group_address, first_seen, last_seen, message_count, has_read_response,
			 last_source, last_payload, guessed_dpt, guessed_value)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(group_address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1,
			has_read_response = MAX(has_read_response, excluded.has_read_response),
			last_source = COALESCE(excluded.last_source, last_source),
			last_payload = excluded.last_payload,
			guessed_dpt = excluded.guessed_dpt,
			guessed_value = excluded.guessed_value
	`)
	if err != nil {
		return fmt.Errorf("preparing group address upsert: %w", err)
	}

	deviceStmt, err := r.db.PrepareContext(ctx, `
		INSERT INTO knx_devices (individual_address, first_seen, last_seen, message_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(individual_address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1
	`)
	if err != nil {
		gaStmt.Close()
		return fmt.Errorf("preparing device upsert: %w", err)
	}

	r.gaStmt = gaStmt
	r.deviceStmt = deviceStmt
	r.logInfo("address recorder started")
	return nil
}

// Stop releases the prepared statements. Later events are ignored.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true
	if r.gaStmt != nil {
		r.gaStmt.Close()
		r.gaStmt = nil
	}
	if r.deviceStmt != nil {
		r.deviceStmt.Close()
		r.deviceStmt = nil
	}
	r.logInfo("address recorder stopped")
}

// OnWrite implements busclient.Observer.
func (r *Recorder) OnWrite(e busclient.Event) {
	r.record(e, false)
}

// OnResponse implements busclient.Observer.
func (r *Recorder) OnResponse(e busclient.Event) {
	r.record(e, true)
}

func (r *Recorder) record(e busclient.Event, isResponse bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gaStmt == nil {
		return
	}

	seen := e.Time
	if seen.IsZero() {
		seen = time.Now()
	}
	ts := seen.Unix()

	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()

	// 0.0.0 is not a real device.
	if e.Source != "" && e.Source != "0.0.0" {
		if _, err := r.deviceStmt.ExecContext(ctx, e.Source, ts, ts); err != nil {
			r.logError("recording device", err, "address", e.Source)
		}
	}

	hasResponse := 0
	if isResponse {
		hasResponse = 1
	}
	if _, err := r.gaStmt.ExecContext(ctx,
		e.Destination, ts, ts, hasResponse,
		nullString(e.Source), e.Payload.String(), nullString(string(e.DPT)), formatValue(e.Value),
	); err != nil {
		r.logError("recording group address", err, "address", e.Destination)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatValue(v any) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmt.Sprint(v), Valid: true}
}

func (r *Recorder) logInfo(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Recorder) logError(msg string, err error, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
