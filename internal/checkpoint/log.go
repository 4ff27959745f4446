// Package checkpoint implements the execution log: an append-only,
// parent-linked chain of state snapshots per (thread, namespace), plus the
// pending channel writes recorded against each snapshot.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/invoicegate/internal/db"
	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
)

// Well-known channels carry fixed negative write indexes so they sort
// ahead of ordinary writes.
const (
	ChannelError     = "__error__"
	ChannelScheduled = "__scheduled__"
	ChannelInterrupt = "__interrupt__"
	ChannelResume    = "__resume__"
)

var writePriority = map[string]int{
	ChannelError:     -1,
	ChannelScheduled: -2,
	ChannelInterrupt: -3,
	ChannelResume:    -4,
}

// WriteIndex returns the stored write_idx for a channel at position ordinal.
func WriteIndex(channel string, ordinal int) int {
	if idx, ok := writePriority[channel]; ok {
		return idx
	}
	return ordinal
}

// Config scopes log operations to one chain.
type Config struct {
	ThreadID  string
	Namespace string
}

// Metadata is free-form data stored next to a snapshot.
type Metadata map[string]any

// ChannelWrite is one value written to a channel by a task.
type ChannelWrite struct {
	Channel string
	Value   any
}

// PendingWrite is a stored channel write.
type PendingWrite struct {
	TaskID   string
	Channel  string
	Index    int
	TaskPath string
	Type     string
	Blob     []byte

	serde Serde
}

// Decode deserializes the write value into out.
func (w PendingWrite) Decode(out any) error {
	return serdeOrDefault(w.serde).LoadsTyped(w.Type, w.Blob, out)
}

// Record is one execution checkpoint.
type Record struct {
	Config        Config
	CheckpointID  string
	ParentID      string
	Type          string
	Blob          []byte
	Metadata      Metadata
	CreatedAt     time.Time
	PendingWrites []PendingWrite

	serde Serde
}

// Decode deserializes the snapshot into out.
func (r *Record) Decode(out any) error {
	return serdeOrDefault(r.serde).LoadsTyped(r.Type, r.Blob, out)
}

// ListOptions narrows List results.
type ListOptions struct {
	// Filter keeps records whose metadata has equal values for every key.
	Filter map[string]any
	// Before excludes checkpoint ids >= Before.
	Before string
	// Limit caps the number of rows read; 0 means no limit.
	Limit int
}

// Log is the execution log backed by the store database.
type Log struct {
	db     *db.DB
	serde  Serde
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithSerde overrides the serializer.
func WithSerde(s Serde) Option {
	return func(l *Log) { l.serde = s }
}

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// New creates an execution log over d.
func New(d *db.DB, opts ...Option) *Log {
	l := &Log{
		db:     d,
		serde:  JSONSerde{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func serdeOrDefault(s Serde) Serde {
	if s == nil {
		return JSONSerde{}
	}
	return s
}

// NewID returns a time-ordered checkpoint id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

const headQuery = `
	SELECT checkpoint_id FROM execution_checkpoints
	WHERE thread_id = ? AND namespace = ?
	ORDER BY created_at DESC, checkpoint_id DESC
	LIMIT 1`

// Put appends snapshot to the chain and returns the new checkpoint id.
// The parent is whatever the chain head was inside the same transaction.
func (l *Log) Put(ctx context.Context, cfg Config, snapshot any, metadata Metadata) (string, error) {
	if cfg.ThreadID == "" {
		return "", gateerrors.ConfigInvalid("thread_id", "execution log operations require a thread id")
	}
	if metadata == nil {
		metadata = Metadata{}
	}
	typ, blob, err := l.serde.DumpsTyped(snapshot)
	if err != nil {
		return "", gateerrors.Persistence("serialize execution checkpoint", err)
	}
	mtyp, mblob, err := l.serde.DumpsTyped(metadata)
	if err != nil {
		return "", gateerrors.Persistence("serialize checkpoint metadata", err)
	}

	id := NewID()
	created := db.Timestamp(l.now())

	var parent sql.NullString
	err = l.db.RunInTx(ctx, func(tx *db.TxOps) error {
		if err := tx.QueryRow(headQuery, cfg.ThreadID, cfg.Namespace).Scan(&parent); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read chain head: %w", err)
		}
		_, err := tx.Exec(`
			INSERT INTO execution_checkpoints
				(thread_id, namespace, checkpoint_id, parent_checkpoint_id, type, blob, metadata_type, metadata_blob, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cfg.ThreadID, cfg.Namespace, id, parent, typ, blob, mtyp, mblob, created)
		if err != nil {
			return fmt.Errorf("insert execution checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", gateerrors.Persistence("put execution checkpoint", err)
	}

	l.logger.Debug("execution checkpoint stored",
		"thread_id", cfg.ThreadID, "namespace", cfg.Namespace, "checkpoint_id", id, "parent_id", parent.String)
	return id, nil
}

// PutWrites records channel writes for a task against checkpointID.
// Existing rows with the same key are replaced.
func (l *Log) PutWrites(ctx context.Context, cfg Config, checkpointID, taskID, taskPath string, writes []ChannelWrite) error {
	if cfg.ThreadID == "" || checkpointID == "" {
		return gateerrors.ConfigInvalid("checkpoint_id", "writes require a thread id and checkpoint id")
	}
	type row struct {
		channel string
		idx     int
		typ     string
		blob    []byte
	}
	rows := make([]row, 0, len(writes))
	for i, w := range writes {
		typ, blob, err := l.serde.DumpsTyped(w.Value)
		if err != nil {
			return gateerrors.Persistence("serialize pending write", err)
		}
		rows = append(rows, row{channel: w.Channel, idx: WriteIndex(w.Channel, i), typ: typ, blob: blob})
	}

	err := l.db.RunInTx(ctx, func(tx *db.TxOps) error {
		for _, r := range rows {
			_, err := tx.Exec(`
				INSERT INTO execution_writes
					(thread_id, namespace, checkpoint_id, task_id, channel, write_idx, value_type, value_blob, task_path)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (thread_id, namespace, checkpoint_id, task_id, channel, write_idx)
				DO UPDATE SET value_type = excluded.value_type, value_blob = excluded.value_blob, task_path = excluded.task_path`,
				cfg.ThreadID, cfg.Namespace, checkpointID, taskID, r.channel, r.idx, r.typ, r.blob, taskPath)
			if err != nil {
				return fmt.Errorf("upsert write %s: %w", r.channel, err)
			}
		}
		return nil
	})
	if err != nil {
		return gateerrors.Persistence("put pending writes", err)
	}
	return nil
}

const recordColumns = `thread_id, namespace, checkpoint_id, parent_checkpoint_id, type, blob, metadata_type, metadata_blob, created_at`

// Get returns the checkpoint with the given id, or the chain head when
// checkpointID is empty.
func (l *Log) Get(ctx context.Context, cfg Config, checkpointID string) (*Record, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if checkpointID == "" {
		rows, err = l.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM execution_checkpoints
			WHERE thread_id = ? AND namespace = ?
			ORDER BY created_at DESC, checkpoint_id DESC LIMIT 1`, cfg.ThreadID, cfg.Namespace)
	} else {
		rows, err = l.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM execution_checkpoints
			WHERE thread_id = ? AND namespace = ? AND checkpoint_id = ?`, cfg.ThreadID, cfg.Namespace, checkpointID)
	}
	if err != nil {
		return nil, gateerrors.Persistence("get execution checkpoint", err)
	}
	records, err := l.scanRecords(rows)
	if err != nil {
		return nil, gateerrors.Persistence("get execution checkpoint", err)
	}
	if len(records) == 0 {
		what := checkpointID
		if what == "" {
			what = "head of " + cfg.ThreadID
		}
		return nil, gateerrors.NotFound("execution checkpoint", what)
	}

	rec := records[0]
	if err := l.loadWrites(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns checkpoints newest first. A nil cfg lists every thread.
func (l *Log) List(ctx context.Context, cfg *Config, opts ListOptions) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	if cfg != nil {
		where = append(where, "thread_id = ?", "namespace = ?")
		args = append(args, cfg.ThreadID, cfg.Namespace)
	}
	if opts.Before != "" {
		where = append(where, "checkpoint_id < ?")
		args = append(args, opts.Before)
	}

	query := `SELECT ` + recordColumns + ` FROM execution_checkpoints`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, checkpoint_id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, gateerrors.Persistence("list execution checkpoints", err)
	}
	records, err := l.scanRecords(rows)
	if err != nil {
		return nil, gateerrors.Persistence("list execution checkpoints", err)
	}

	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		if !matchesFilter(rec.Metadata, opts.Filter) {
			continue
		}
		if err := l.loadWrites(ctx, rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Chain returns the chain from the head back to the first record.
func (l *Log) Chain(ctx context.Context, cfg Config) ([]*Record, error) {
	all, err := l.List(ctx, &cfg, ListOptions{})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, gateerrors.NotFound("execution thread", cfg.ThreadID)
	}
	byID := make(map[string]*Record, len(all))
	for _, r := range all {
		byID[r.CheckpointID] = r
	}

	chain := make([]*Record, 0, len(all))
	for cur := all[0]; cur != nil; cur = byID[cur.ParentID] {
		chain = append(chain, cur)
		if cur.ParentID == "" || len(chain) > len(all) {
			break
		}
	}
	return chain, nil
}

// DeleteThread removes every record and write under threadID.
func (l *Log) DeleteThread(ctx context.Context, threadID string) error {
	err := l.db.RunInTx(ctx, func(tx *db.TxOps) error {
		if _, err := tx.Exec("DELETE FROM execution_writes WHERE thread_id = ?", threadID); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM execution_checkpoints WHERE thread_id = ?", threadID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return gateerrors.Persistence("delete execution thread", err)
	}
	l.logger.Info("execution thread deleted", "thread_id", threadID)
	return nil
}

// scanRecords reads and closes rows.
func (l *Log) scanRecords(rows *sql.Rows) ([]*Record, error) {
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		var (
			rec                 Record
			parentID, typ, mtyp sql.NullString
			blob, mblob         []byte
			createdAt           string
		)
		if err := rows.Scan(&rec.Config.ThreadID, &rec.Config.Namespace, &rec.CheckpointID,
			&parentID, &typ, &blob, &mtyp, &mblob, &createdAt); err != nil {
			return nil, fmt.Errorf("scan execution checkpoint: %w", err)
		}
		rec.ParentID = parentID.String
		rec.Type = typ.String
		rec.Blob = blob
		rec.serde = l.serde
		if t, err := db.ParseTimestamp(createdAt); err == nil {
			rec.CreatedAt = t
		}
		rec.Metadata = Metadata{}
		if len(mblob) > 0 {
			if err := l.serde.LoadsTyped(mtyp.String, mblob, &rec.Metadata); err != nil {
				l.logger.Warn("unreadable checkpoint metadata", "checkpoint_id", rec.CheckpointID, "error", err)
				rec.Metadata = Metadata{}
			}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution checkpoints: %w", err)
	}
	return out, nil
}

func (l *Log) loadWrites(ctx context.Context, rec *Record) error {
	rows, err := l.db.QueryContext(ctx, `
		SELECT task_id, channel, write_idx, value_type, value_blob, task_path
		FROM execution_writes
		WHERE thread_id = ? AND namespace = ? AND checkpoint_id = ?
		ORDER BY write_idx ASC, task_id ASC, channel ASC`,
		rec.Config.ThreadID, rec.Config.Namespace, rec.CheckpointID)
	if err != nil {
		return gateerrors.Persistence("load pending writes", err)
	}
	defer func() { _ = rows.Close() }()

	rec.PendingWrites = nil
	for rows.Next() {
		var (
			w   PendingWrite
			typ sql.NullString
		)
		if err := rows.Scan(&w.TaskID, &w.Channel, &w.Index, &typ, &w.Blob, &w.TaskPath); err != nil {
			return gateerrors.Persistence("scan pending write", err)
		}
		w.Type = typ.String
		w.serde = l.serde
		rec.PendingWrites = append(rec.PendingWrites, w)
	}
	if err := rows.Err(); err != nil {
		return gateerrors.Persistence("iterate pending writes", err)
	}
	return nil
}

// matchesFilter compares values by their JSON encoding so 3 and 3.0 agree.
func matchesFilter(md Metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := md[k]
		if !ok {
			return false
		}
		a, errA := json.Marshal(got)
		b, errB := json.Marshal(want)
		if errA != nil || errB != nil || string(a) != string(b) {
			return false
		}
	}
	return true
}
