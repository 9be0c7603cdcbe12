// Package ledger debits usage credits against a personal or pooled balance.
// Debits are all-or-nothing: a denied request leaves every counter exactly
// as it was.
package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"quotaserver/internal/entitle"
	"quotaserver/internal/models"
	"quotaserver/internal/store"
)

var (
	ErrGuestMode       = errors.New("guest mode: credit-consuming actions are denied")
	ErrCreditsExceeded = errors.New("insufficient credits")
	ErrInvalidAmount   = errors.New("debit amount must be positive")
)

// Result reports a debit outcome. Deducted is zero for time-backed access,
// which spends nothing. BecameGuest flags a successful debit that dropped
// the gating balance below the threshold, so the client can react before
// the next call fails.
type Result struct {
	Deducted    int64            `json:"deductedCount"`
	NewUsed     int64            `json:"userExportCount"`
	Remaining   int64            `json:"remaining"`
	BecameGuest bool             `json:"becameGuest,omitempty"`
	Reason      entitle.Reason   `json:"reason,omitempty"`
	Decision    entitle.Decision `json:"-"`
}

type Ledger struct {
	st *store.Store
}

func New(st *store.Store) *Ledger { return &Ledger{st: st} }

// Debit classifies the user fresh and, when permitted, applies the debit
// atomically per counter. Two concurrent near-limit debits can both pass
// the projection check before either increment lands; that narrow
// over-debit window is a documented property of the single-key storage
// model, not something the ledger tries to lock around.
func (l *Ledger) Debit(ctx context.Context, u models.User, line *models.Line, amount int64, source string) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}

	now := time.Now()
	d := entitle.Classify(u, line, now)
	if d.Mode == models.ModeGuest {
		return Result{Remaining: d.Remaining, Reason: d.Reason, Decision: d}, ErrGuestMode
	}

	res := Result{Decision: d, NewUsed: u.ExportCount, Remaining: -1}

	switch {
	case d.TimeBacked:
		// Time mode spends nothing; only the audit trail records the call.

	case u.PersonalQuota > 0:
		if u.ExportCount+amount > u.PersonalQuota {
			return Result{Remaining: u.PersonalQuota - u.ExportCount, Decision: d}, ErrCreditsExceeded
		}
		newUsed, err := l.st.IncrExportCount(ctx, u.Username, amount)
		if err != nil {
			return Result{}, err
		}
		res.Deducted = amount
		res.NewUsed = newUsed
		res.Remaining = u.PersonalQuota - newUsed
		if res.Remaining < entitle.CreditsMinThreshold {
			res.BecameGuest = true
			res.Reason = entitle.ReasonCreditsBelowThreshold
		}

	case line != nil && line.QuotaMode == models.QuotaShared && line.Quota > 0:
		if line.Used+amount > line.Quota {
			return Result{Remaining: line.Quota - line.Used, Decision: d}, ErrCreditsExceeded
		}
		newLineUsed, err := l.st.IncrLineUsed(ctx, line.Name, amount)
		if err != nil {
			return Result{}, err
		}
		// The user counter moves with the pool for audit purposes even
		// though only the pool gates future checks. The two increments
		// are independent; if the second fails we surface the error and
		// leave the counters inconsistent rather than compensate.
		newUsed, err := l.st.IncrExportCount(ctx, u.Username, amount)
		if err != nil {
			log.Printf("ledger: line %s debited %d but user %s counter failed: %v", line.Name, amount, u.Username, err)
			return Result{}, err
		}
		res.Deducted = amount
		res.NewUsed = newUsed
		res.Remaining = line.Quota - newLineUsed
		if res.Remaining < entitle.CreditsMinThreshold {
			res.BecameGuest = true
			res.Reason = entitle.ReasonLineCreditsBelow
		}

	default:
		// Unlimited: no ceiling to project against.
		newUsed, err := l.st.IncrExportCount(ctx, u.Username, amount)
		if err != nil {
			return Result{}, err
		}
		res.Deducted = amount
		res.NewUsed = newUsed
	}

	entry := models.HistoryEntry{Count: amount, Source: source, Timestamp: now.UnixMilli()}
	if err := l.st.AppendHistory(ctx, u.Username, entry); err != nil {
		// History is audit-only and never read back for balances.
		log.Printf("ledger: append history for %s: %v", u.Username, err)
	}
	return res, nil
}
