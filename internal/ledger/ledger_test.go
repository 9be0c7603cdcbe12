package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"quotaserver/internal/kv"
	"quotaserver/internal/models"
	"quotaserver/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(kv.NewMemory())
}

func seedUser(t *testing.T, st *store.Store, u models.User) {
	t.Helper()
	ctx := context.Background()
	if err := st.PromotePending(ctx, u); err != nil {
		t.Fatalf("seed user %s: %v", u.Username, err)
	}
}

func seedLine(t *testing.T, st *store.Store, l models.Line) {
	t.Helper()
	if err := st.CreateLine(context.Background(), l); err != nil {
		t.Fatalf("seed line %s: %v", l.Name, err)
	}
}

func TestDebitPersonalCrossesThreshold(t *testing.T) {
	st := newTestStore(t)
	led := New(st)
	u := models.User{Username: "alice1", Status: models.UserApproved, Enabled: true,
		UserMode: models.ModeNormal, PersonalQuota: 200, ExportCount: 50}
	seedUser(t, st, u)

	res, err := led.Debit(context.Background(), u, nil, 60, "export")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if res.Deducted != 60 || res.NewUsed != 110 {
		t.Fatalf("deducted=%d used=%d, want 60/110", res.Deducted, res.NewUsed)
	}
	if res.Remaining != 90 {
		t.Fatalf("remaining = %d, want 90", res.Remaining)
	}
	if !res.BecameGuest || res.Reason != "credits_below_threshold" {
		t.Fatalf("becameGuest=%v reason=%s, want true/credits_below_threshold", res.BecameGuest, res.Reason)
	}

	got, err := st.GetUser(context.Background(), "alice1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.ExportCount != 110 {
		t.Fatalf("stored exportCount = %d, want 110", got.ExportCount)
	}
}

func TestDebitAllOrNothing(t *testing.T) {
	st := newTestStore(t)
	led := New(st)
	u := models.User{Username: "bob2", Status: models.UserApproved, Enabled: true,
		UserMode: models.ModeNormal, PersonalQuota: 1000, ExportCount: 200}
	seedUser(t, st, u)

	res, err := led.Debit(context.Background(), u, nil, 900, "extract")
	if !errors.Is(err, ErrCreditsExceeded) {
		t.Fatalf("err = %v, want ErrCreditsExceeded", err)
	}
	if res.Remaining != 800 {
		t.Fatalf("remaining = %d, want 800", res.Remaining)
	}
	got, _ := st.GetUser(context.Background(), "bob2")
	if got.ExportCount != 200 {
		t.Fatalf("counter moved on denied debit: %d", got.ExportCount)
	}
}

func TestDebitTimeBackedSpendsNothing(t *testing.T) {
	st := newTestStore(t)
	led := New(st)
	u := models.User{Username: "carol3", Status: models.UserApproved, Enabled: true,
		UserMode: models.ModeNormal, ExpireAt: time.Now().Add(time.Hour).UnixMilli(),
		PersonalQuota: 200, ExportCount: 10}
	seedUser(t, st, u)

	res, err := led.Debit(context.Background(), u, nil, 50, "export")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if res.Deducted != 0 || res.Remaining != -1 || res.BecameGuest {
		t.Fatalf("got %+v, want free time-backed pass", res)
	}
	got, _ := st.GetUser(context.Background(), "carol3")
	if got.ExportCount != 10 {
		t.Fatalf("counter moved on time-backed call: %d", got.ExportCount)
	}
	// The call still lands in the audit trail.
	hist, err := st.ListHistory(context.Background(), "carol3", 10)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %v (err %v), want one entry", hist, err)
	}
	if hist[0].Count != 50 || hist[0].Source != "export" {
		t.Fatalf("history entry = %+v", hist[0])
	}
}

func TestDebitSharedLineMovesBothCounters(t *testing.T) {
	st := newTestStore(t)
	led := New(st)
	line := models.Line{Name: "team", Quota: 1000, Used: 800, QuotaMode: models.QuotaShared, Enabled: true}
	seedLine(t, st, line)
	u := models.User{Username: "dave4", Status: models.UserApproved, Enabled: true,
		UserMode: models.ModeNormal, Line: "team", ExportCount: 5}
	seedUser(t, st, u)

	res, err := led.Debit(context.Background(), u, &line, 50, "extract")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if res.Remaining != 150 {
		t.Fatalf("remaining = %d, want 150", res.Remaining)
	}
	if res.BecameGuest {
		t.Fatal("150 remaining is above threshold, must not flag becameGuest")
	}
	gotLine, _ := st.GetLine(context.Background(), "team")
	if gotLine.Used != 850 {
		t.Fatalf("line used = %d, want 850", gotLine.Used)
	}
	gotUser, _ := st.GetUser(context.Background(), "dave4")
	if gotUser.ExportCount != 55 {
		t.Fatalf("user exportCount = %d, want 55", gotUser.ExportCount)
	}
}

func TestDebitGuestDenied(t *testing.T) {
	st := newTestStore(t)
	led := New(st)
	line := models.Line{Name: "dry", Quota: 100, Used: 90, QuotaMode: models.QuotaShared, Enabled: true}
	seedLine(t, st, line)
	u := models.User{Username: "erin5", Status: models.UserApproved, Enabled: true,
		UserMode: models.ModeNormal, Line: "dry"}
	seedUser(t, st, u)

	res, err := led.Debit(context.Background(), u, &line, 1, "export")
	if !errors.Is(err, ErrGuestMode) {
		t.Fatalf("err = %v, want ErrGuestMode", err)
	}
	if res.Reason != "line_credits_below_threshold" {
		t.Fatalf("reason = %s", res.Reason)
	}
	gotLine, _ := st.GetLine(context.Background(), "dry")
	if gotLine.Used != 90 {
		t.Fatalf("line counter moved on guest denial: %d", gotLine.Used)
	}
	hist, _ := st.ListHistory(context.Background(), "erin5", 10)
	if len(hist) != 0 {
		t.Fatalf("denied debit must not append history, got %d entries", len(hist))
	}
}

func TestDebitUnlimited(t *testing.T) {
	st := newTestStore(t)
	led := New(st)
	line := models.Line{Name: "open", Quota: 0, QuotaMode: models.QuotaShared, Enabled: true}
	seedLine(t, st, line)
	u := models.User{Username: "finn6", Status: models.UserApproved, Enabled: true,
		UserMode: models.ModeNormal, Line: "open", ExportCount: 3}
	seedUser(t, st, u)

	res, err := led.Debit(context.Background(), u, &line, 500, "export")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if res.NewUsed != 503 || res.Remaining != -1 || res.BecameGuest {
		t.Fatalf("got %+v", res)
	}
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	st := newTestStore(t)
	led := New(st)
	u := models.User{Username: "gina7", UserMode: models.ModeNormal, PersonalQuota: 500}
	if _, err := led.Debit(context.Background(), u, nil, 0, "export"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}
