// Package ledger is the single write path for user coin balances. Every
// mutation runs under a row lock on the user, appends exactly one audit
// entry, and refuses to repeat a credit that already carries the same
// source reference.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hackclub/siege/models"
	"github.com/hackclub/siege/observability"
)

var (
	// ErrInsufficientFunds refuses a debit that would take a balance negative.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrUserNotFound marks a mutation against an unknown user.
	ErrUserNotFound = errors.New("ledger: user not found")
	// ErrMissingAction refuses a mutation with no audit action.
	ErrMissingAction = errors.New("ledger: action is required")
)

// Mutation describes one balance change.
type Mutation struct {
	UserID  uuid.UUID
	Action  string
	ActorID uuid.UUID
	// SourceRef identifies the originating event (ballot id, bet id,
	// purchase id). A non-empty ref makes the mutation idempotent.
	SourceRef string
	Delta     int64
	Details   map[string]string
}

// Result reports what a mutation did. Applied is false when an audit entry
// with the same source reference already existed.
type Result struct {
	Applied bool
	Entry   models.AuditEntry
	Balance int64
}

// Ledger applies coin mutations against a gorm-backed user table.
type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New builds a ledger over the given database handle.
func New(db *gorm.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, logger: logger}
}

// Apply runs the mutation in its own transaction.
func (l *Ledger) Apply(ctx context.Context, m Mutation) (Result, error) {
	var res Result
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		res, txErr = ApplyTx(tx, m)
		return txErr
	})
	return res, err
}

// ApplyTx runs a mutation inside an existing transaction so callers can
// couple the balance change with their own writes. The user row is locked
// for the remainder of the transaction.
func ApplyTx(tx *gorm.DB, m Mutation) (Result, error) {
	if m.Action == "" {
		return Result{}, ErrMissingAction
	}

	var user models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, "id = ?", m.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, ErrUserNotFound
		}
		return Result{}, err
	}

	if existing := user.AuditLogs.FindBySourceRef(m.SourceRef); existing != nil {
		observability.LedgerMutations.WithLabelValues(m.Action, "duplicate").Inc()
		return Result{Applied: false, Entry: *existing, Balance: user.Coins}, nil
	}

	if m.Delta < 0 && user.Coins+m.Delta < 0 {
		observability.LedgerMutations.WithLabelValues(m.Action, "refused").Inc()
		return Result{}, fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientFunds, user.Coins, m.Delta)
	}

	entry := models.AuditEntry{
		Timestamp:       time.Now().UTC(),
		Action:          m.Action,
		ActorID:         m.ActorID,
		SourceRef:       m.SourceRef,
		Delta:           m.Delta,
		PreviousBalance: user.Coins,
		NewBalance:      user.Coins + m.Delta,
		Details:         m.Details,
	}
	user.Coins += m.Delta
	user.AuditLogs = user.AuditLogs.Append(entry)

	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"coins":      user.Coins,
			"audit_logs": user.AuditLogs,
		}).Error; err != nil {
		return Result{}, err
	}

	observability.LedgerMutations.WithLabelValues(m.Action, "applied").Inc()
	return Result{Applied: true, Entry: entry, Balance: user.Coins}, nil
}

// AdminAdjust credits or debits an arbitrary amount with a required reason.
// Rank checks belong to the HTTP layer; the ledger only records who acted.
func (l *Ledger) AdminAdjust(ctx context.Context, adminID, userID uuid.UUID, delta int64, reason string) (Result, error) {
	if reason == "" {
		return Result{}, errors.New("ledger: adjustment reason is required")
	}
	return l.Apply(ctx, Mutation{
		UserID:    userID,
		Action:    "admin_adjustment",
		ActorID:   adminID,
		SourceRef: "adjust:" + uuid.NewString(),
		Delta:     delta,
		Details:   map[string]string{"reason": reason},
	})
}
