// Package review persists the human review gate: paused-run snapshots, the
// pending queue, and the decisions that release them.
package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/invoicegate/internal/db"
	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
	"github.com/randalmurphal/invoicegate/internal/state"
)

// Checkpoint statuses.
const (
	StatusPending  = "PENDING"
	StatusResolved = "RESOLVED"
)

// Stages a decision sends the run to.
const (
	NextReconcile     = "RECONCILE"
	NextManualHandoff = "MANUAL_HANDOFF"
)

// Checkpoint is a full review record.
type Checkpoint struct {
	ID          string               `json:"checkpoint_id"`
	CreatedAt   time.Time            `json:"created_at"`
	State       *state.WorkflowState `json:"state,omitempty"`
	Status      string               `json:"status"`
	InvoiceID   string               `json:"invoice_id,omitempty"`
	VendorName  string               `json:"vendor_name,omitempty"`
	Amount      *float64             `json:"amount,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	ReviewURL   string               `json:"review_url,omitempty"`
	Decision    string               `json:"decision,omitempty"`
	ReviewerID  string               `json:"reviewer_id,omitempty"`
	Notes       string               `json:"notes,omitempty"`
	DecidedAt   *time.Time           `json:"decided_at,omitempty"`
	ResumeToken string               `json:"resume_token,omitempty"`
}

// PendingItem is one row of the review queue as shown to reviewers.
type PendingItem struct {
	CheckpointID  string    `json:"checkpoint_id"`
	InvoiceID     string    `json:"invoice_id"`
	VendorName    string    `json:"vendor_name"`
	Amount        *float64  `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
	ReasonForHold string    `json:"reason_for_hold"`
	ReviewURL     string    `json:"review_url"`
}

// Status is the decision state of a checkpoint.
type Status struct {
	CheckpointID string `json:"checkpoint_id"`
	Status       string `json:"status"`
	Decision     string `json:"decision,omitempty"`
	ReviewerID   string `json:"reviewer_id,omitempty"`
	ResumeToken  string `json:"resume_token,omitempty"`
}

// DecisionResult is returned by ApplyDecision.
type DecisionResult struct {
	ResumeToken string `json:"resume_token"`
	NextStage   string `json:"next_stage"`
}

// SaveRequest describes a new review checkpoint.
type SaveRequest struct {
	// ID is generated when empty.
	ID         string
	State      *state.WorkflowState
	Reason     string
	ReviewURL  string
	InvoiceID  string
	VendorName string
	Amount     *float64
}

// Store is the review store.
type Store struct {
	db     *db.DB
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a review store over d.
func New(d *db.DB, opts ...Option) *Store {
	s := &Store{db: d, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewCheckpointID returns "chk_" followed by 12 hex characters.
func NewCheckpointID() string {
	return "chk_" + state.HexID(12)
}

// NewResumeToken returns "resume_" followed by 10 hex characters.
func NewResumeToken() string {
	return "resume_" + state.HexID(10)
}

// NormalizeDecision upper-cases decision and rejects anything but
// ACCEPT or REJECT.
func NormalizeDecision(decision string) (string, error) {
	d := strings.ToUpper(strings.TrimSpace(decision))
	if d != state.DecisionAccept && d != state.DecisionReject {
		return "", gateerrors.InvalidDecision(decision)
	}
	return d, nil
}

// SaveCheckpoint stores a PENDING checkpoint and its queue entry.
func (s *Store) SaveCheckpoint(ctx context.Context, req SaveRequest) (string, error) {
	if req.State == nil {
		return "", gateerrors.InvalidPayload("review checkpoint requires a state snapshot")
	}
	id := req.ID
	if id == "" {
		id = NewCheckpointID()
	}
	blob, err := req.State.Marshal()
	if err != nil {
		return "", gateerrors.Persistence("serialize review snapshot", err)
	}
	now := db.Timestamp(s.now())

	err = s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		if _, err := tx.Exec(`
			INSERT INTO review_checkpoints
				(id, created_at, state_blob, status, invoice_id, vendor_name, amount, reason, review_url)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, now, string(blob), StatusPending,
			nullString(req.InvoiceID), nullString(req.VendorName), nullFloat(req.Amount),
			req.Reason, req.ReviewURL); err != nil {
			return fmt.Errorf("insert review checkpoint: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO review_queue (id, checkpoint_id, created_at, status)
			VALUES (?, ?, ?, ?)`,
			"q_"+state.HexID(16), id, now, StatusPending); err != nil {
			return fmt.Errorf("insert review queue entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", gateerrors.Persistence("save review checkpoint", err)
	}

	s.logger.Info("review checkpoint saved",
		"checkpoint_id", id, "run_id", req.State.RunID, "invoice_id", req.InvoiceID, "reason", req.Reason)
	return id, nil
}

// ListPending returns PENDING checkpoints, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]PendingItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, vendor_name, amount, created_at, reason, review_url
		FROM review_checkpoints
		WHERE status = ?
		ORDER BY created_at ASC, id ASC`, StatusPending)
	if err != nil {
		return nil, gateerrors.Persistence("list pending reviews", err)
	}
	defer func() { _ = rows.Close() }()

	items := []PendingItem{}
	for rows.Next() {
		var (
			it                             PendingItem
			invoiceID, vendor, reason, url sql.NullString
			amount                         sql.NullFloat64
			createdAt                      string
		)
		if err := rows.Scan(&it.CheckpointID, &invoiceID, &vendor, &amount, &createdAt, &reason, &url); err != nil {
			return nil, gateerrors.Persistence("scan pending review", err)
		}
		it.InvoiceID = invoiceID.String
		it.VendorName = vendor.String
		it.ReasonForHold = reason.String
		it.ReviewURL = url.String
		if amount.Valid {
			v := amount.Float64
			it.Amount = &v
		}
		it.CreatedAt, _ = db.ParseTimestamp(createdAt)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, gateerrors.Persistence("iterate pending reviews", err)
	}
	return items, nil
}

// LoadCheckpoint returns the state snapshot stored with a checkpoint.
func (s *Store) LoadCheckpoint(ctx context.Context, id string) (*state.WorkflowState, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT state_blob FROM review_checkpoints WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gateerrors.NotFound("checkpoint", id)
	}
	if err != nil {
		return nil, gateerrors.Persistence("load review checkpoint", err)
	}
	st, err := state.Unmarshal([]byte(blob))
	if err != nil {
		return nil, gateerrors.Persistence("decode review checkpoint", err)
	}
	return st, nil
}

// ApplyDecision resolves a PENDING checkpoint. A checkpoint that is
// already resolved is left unchanged and ALREADY_RESOLVED is returned.
func (s *Store) ApplyDecision(ctx context.Context, id, decision, notes, reviewerID string) (DecisionResult, error) {
	d, err := NormalizeDecision(decision)
	if err != nil {
		return DecisionResult{}, err
	}
	result := DecisionResult{ResumeToken: NewResumeToken(), NextStage: NextManualHandoff}
	if d == state.DecisionAccept {
		result.NextStage = NextReconcile
	}
	now := db.Timestamp(s.now())

	err = s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		res, err := tx.Exec(`
			UPDATE review_checkpoints
			SET status = ?, decision = ?, notes = ?, reviewer_id = ?, decided_at = ?, resume_token = ?
			WHERE id = ? AND status = ?`,
			StatusResolved, d, notes, reviewerID, now, result.ResumeToken, id, StatusPending)
		if err != nil {
			return fmt.Errorf("update review checkpoint: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			var existing sql.NullString
			err := tx.QueryRow(`SELECT decision FROM review_checkpoints WHERE id = ?`, id).Scan(&existing)
			if errors.Is(err, sql.ErrNoRows) {
				return gateerrors.NotFound("checkpoint", id)
			}
			if err != nil {
				return fmt.Errorf("read review checkpoint: %w", err)
			}
			return gateerrors.AlreadyResolved(id, existing.String)
		}
		if _, err := tx.Exec(`UPDATE review_queue SET status = ? WHERE checkpoint_id = ?`, StatusResolved, id); err != nil {
			return fmt.Errorf("update review queue: %w", err)
		}
		return nil
	})
	if err != nil {
		if gateerrors.AsGateError(err) != nil {
			return DecisionResult{}, err
		}
		return DecisionResult{}, gateerrors.Persistence("apply review decision", err)
	}

	s.logger.Info("review decision applied",
		"checkpoint_id", id, "decision", d, "reviewer_id", reviewerID, "next_stage", result.NextStage)
	return result, nil
}

// GetStatus returns the decision state of a checkpoint.
func (s *Store) GetStatus(ctx context.Context, id string) (*Status, error) {
	var (
		st                        Status
		decision, reviewer, token sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, decision, reviewer_id, resume_token
		FROM review_checkpoints WHERE id = ?`, id).
		Scan(&st.CheckpointID, &st.Status, &decision, &reviewer, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gateerrors.NotFound("checkpoint", id)
	}
	if err != nil {
		return nil, gateerrors.Persistence("get review status", err)
	}
	st.Decision = decision.String
	st.ReviewerID = reviewer.String
	st.ResumeToken = token.String
	return &st, nil
}

// Get returns the full checkpoint record including its snapshot.
func (s *Store) Get(ctx context.Context, id string) (*Checkpoint, error) {
	var (
		c                                           Checkpoint
		createdAt, blob                             string
		invoiceID, vendor, reason, url              sql.NullString
		decision, reviewer, notes, decidedAt, token sql.NullString
		amount                                      sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, state_blob, status, invoice_id, vendor_name, amount, reason, review_url,
		       decision, reviewer_id, notes, decided_at, resume_token
		FROM review_checkpoints WHERE id = ?`, id).
		Scan(&c.ID, &createdAt, &blob, &c.Status, &invoiceID, &vendor, &amount, &reason, &url,
			&decision, &reviewer, &notes, &decidedAt, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gateerrors.NotFound("checkpoint", id)
	}
	if err != nil {
		return nil, gateerrors.Persistence("get review checkpoint", err)
	}

	c.CreatedAt, _ = db.ParseTimestamp(createdAt)
	c.InvoiceID = invoiceID.String
	c.VendorName = vendor.String
	c.Reason = reason.String
	c.ReviewURL = url.String
	c.Decision = decision.String
	c.ReviewerID = reviewer.String
	c.Notes = notes.String
	c.ResumeToken = token.String
	if amount.Valid {
		v := amount.Float64
		c.Amount = &v
	}
	if decidedAt.Valid {
		if t, err := db.ParseTimestamp(decidedAt.String); err == nil {
			c.DecidedAt = &t
		}
	}
	st, err := state.Unmarshal([]byte(blob))
	if err != nil {
		return nil, gateerrors.Persistence("decode review checkpoint", err)
	}
	c.State = st
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
