// Package entitle decides whether a user currently gets full ("normal") or
// restricted ("guest") access. The decision is computed fresh at every gate;
// a stored mode is only the admin-set baseline, never the effective answer.
package entitle

import (
	"time"

	"quotaserver/internal/models"
)

// CreditsMinThreshold is the minimum remaining balance required to stay in
// normal mode when time-backed access is unavailable. It is a buffer, not a
// hard exhaustion point: staying normal down to the last unit would let a
// multi-unit debit fail mid-operation.
const CreditsMinThreshold = 100

type Reason string

const (
	ReasonAdminSet              Reason = "admin_set"
	ReasonCreditsBelowThreshold Reason = "credits_below_threshold"
	ReasonLineCreditsBelow      Reason = "line_credits_below_threshold"
	ReasonNoTimeNoCredits       Reason = "no_time_no_credits"
)

// Decision is the outcome of classifying one user+line snapshot.
// Remaining == -1 means the access is not credit-gated (time-backed or
// unlimited); it is never a real balance.
type Decision struct {
	Mode         models.UserMode `json:"mode"`
	Reason       Reason          `json:"reason,omitempty"`
	TimeBacked   bool            `json:"hasValidTime"`
	CreditBacked bool            `json:"usesCredits"`
	Remaining    int64           `json:"remainingCredits"`
}

// Classify is pure: same snapshots and clock give the same decision.
// Time and credits are deliberately orthogonal; holding valid time never
// consumes or consults the credit balance, so credits can be banked.
func Classify(u models.User, line *models.Line, now time.Time) Decision {
	if u.UserMode == models.ModeGuest {
		return Decision{Mode: models.ModeGuest, Reason: ReasonAdminSet, Remaining: -1}
	}
	return classifyTimeAndCredits(u, line, now)
}

// CanPromote reports whether a user may be upgraded to normal mode: the
// non-admin part of the classification must already come out normal.
// Promoting someone with no time and no credits would hand out a mode the
// next gate immediately revokes.
func CanPromote(u models.User, line *models.Line, now time.Time) bool {
	return classifyTimeAndCredits(u, line, now).Mode == models.ModeNormal
}

func classifyTimeAndCredits(u models.User, line *models.Line, now time.Time) Decision {
	if u.ExpireAt > 0 && now.UnixMilli() < u.ExpireAt {
		return Decision{Mode: models.ModeNormal, TimeBacked: true, Remaining: -1}
	}

	if u.PersonalQuota > 0 {
		remaining := u.PersonalQuota - u.ExportCount
		if remaining >= CreditsMinThreshold {
			return Decision{Mode: models.ModeNormal, CreditBacked: true, Remaining: remaining}
		}
		// Remaining may be negative; report it unclamped.
		return Decision{Mode: models.ModeGuest, Reason: ReasonCreditsBelowThreshold, Remaining: remaining}
	}

	if line != nil {
		if line.Quota == 0 {
			return Decision{Mode: models.ModeNormal, Remaining: -1}
		}
		remaining := line.Quota - line.Used
		if remaining >= CreditsMinThreshold {
			return Decision{Mode: models.ModeNormal, CreditBacked: true, Remaining: remaining}
		}
		return Decision{Mode: models.ModeGuest, Reason: ReasonLineCreditsBelow, Remaining: remaining}
	}

	return Decision{Mode: models.ModeGuest, Reason: ReasonNoTimeNoCredits, Remaining: 0}
}
