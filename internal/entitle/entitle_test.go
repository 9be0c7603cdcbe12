package entitle

import (
	"testing"
	"time"

	"quotaserver/internal/models"
)

var now = time.UnixMilli(1_700_000_000_000)

func TestClassifyAdminSetGuestIsTerminal(t *testing.T) {
	// Even with valid time and plenty of credits, an admin-set guest stays guest.
	u := models.User{
		UserMode:      models.ModeGuest,
		ExpireAt:      now.Add(24 * time.Hour).UnixMilli(),
		PersonalQuota: 10_000,
	}
	d := Classify(u, nil, now)
	if d.Mode != models.ModeGuest || d.Reason != ReasonAdminSet {
		t.Fatalf("got mode=%s reason=%s, want guest/admin_set", d.Mode, d.Reason)
	}
	if d.Remaining != -1 {
		t.Fatalf("remaining = %d, want -1", d.Remaining)
	}
}

func TestClassifyTimeBackedIgnoresCredits(t *testing.T) {
	u := models.User{
		UserMode:      models.ModeNormal,
		ExpireAt:      now.Add(time.Hour).UnixMilli(),
		PersonalQuota: 50,
		ExportCount:   50,
	}
	d := Classify(u, nil, now)
	if d.Mode != models.ModeNormal || !d.TimeBacked {
		t.Fatalf("got %+v, want time-backed normal", d)
	}
	if d.CreditBacked {
		t.Fatal("time-backed access must not consult credits")
	}
	if d.Remaining != -1 {
		t.Fatalf("remaining = %d, want -1", d.Remaining)
	}
}

func TestClassifyExpiredTimeFallsThroughToCredits(t *testing.T) {
	u := models.User{
		UserMode:      models.ModeNormal,
		ExpireAt:      now.Add(-time.Minute).UnixMilli(),
		PersonalQuota: 500,
		ExportCount:   100,
	}
	d := Classify(u, nil, now)
	if d.Mode != models.ModeNormal || !d.CreditBacked {
		t.Fatalf("got %+v, want credit-backed normal", d)
	}
	if d.Remaining != 400 {
		t.Fatalf("remaining = %d, want 400", d.Remaining)
	}
}

func TestClassifyPersonalThresholdBoundary(t *testing.T) {
	cases := []struct {
		name     string
		exported int64
		wantMode models.UserMode
	}{
		{"exactly at threshold", 400, models.ModeNormal},
		{"one below threshold", 401, models.ModeGuest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := models.User{UserMode: models.ModeNormal, PersonalQuota: 500, ExportCount: tc.exported}
			d := Classify(u, nil, now)
			if d.Mode != tc.wantMode {
				t.Fatalf("mode = %s, want %s", d.Mode, tc.wantMode)
			}
		})
	}
}

func TestClassifyNegativeRemainingUnclamped(t *testing.T) {
	u := models.User{UserMode: models.ModeNormal, PersonalQuota: 100, ExportCount: 150}
	d := Classify(u, nil, now)
	if d.Mode != models.ModeGuest || d.Reason != ReasonCreditsBelowThreshold {
		t.Fatalf("got %+v, want guest/credits_below_threshold", d)
	}
	if d.Remaining != -50 {
		t.Fatalf("remaining = %d, want -50", d.Remaining)
	}
}

func TestClassifyLinePool(t *testing.T) {
	u := models.User{UserMode: models.ModeNormal, Line: "team-a"}

	unlimited := &models.Line{Name: "team-a", Quota: 0, Used: 99999}
	if d := Classify(u, unlimited, now); d.Mode != models.ModeNormal || d.Remaining != -1 {
		t.Fatalf("unlimited line: got %+v", d)
	}

	healthy := &models.Line{Name: "team-a", Quota: 1000, Used: 200}
	d := Classify(u, healthy, now)
	if d.Mode != models.ModeNormal || !d.CreditBacked || d.Remaining != 800 {
		t.Fatalf("healthy line: got %+v", d)
	}

	low := &models.Line{Name: "team-a", Quota: 1000, Used: 950}
	d = Classify(u, low, now)
	if d.Mode != models.ModeGuest || d.Reason != ReasonLineCreditsBelow {
		t.Fatalf("low line: got %+v", d)
	}
	if d.Remaining != 50 {
		t.Fatalf("low line remaining = %d, want 50", d.Remaining)
	}
}

func TestClassifyPersonalQuotaShadowsLine(t *testing.T) {
	// A member with a personal allowance never draws from the pool.
	u := models.User{UserMode: models.ModeNormal, Line: "team-a", PersonalQuota: 50, ExportCount: 0}
	healthy := &models.Line{Name: "team-a", Quota: 10_000, Used: 0}
	d := Classify(u, healthy, now)
	if d.Mode != models.ModeGuest || d.Reason != ReasonCreditsBelowThreshold {
		t.Fatalf("got %+v, want guest on exhausted personal allowance", d)
	}
}

func TestClassifyNoTimeNoCredits(t *testing.T) {
	d := Classify(models.User{UserMode: models.ModeNormal}, nil, now)
	if d.Mode != models.ModeGuest || d.Reason != ReasonNoTimeNoCredits {
		t.Fatalf("got %+v, want guest/no_time_no_credits", d)
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	u := models.User{UserMode: models.ModeNormal, PersonalQuota: 500, ExportCount: 100}
	line := &models.Line{Name: "l", Quota: 300, Used: 10}
	first := Classify(u, line, now)
	for i := 0; i < 3; i++ {
		if got := Classify(u, line, now); got != first {
			t.Fatalf("classification changed on repeat: %+v vs %+v", got, first)
		}
	}
}

func TestCanPromote(t *testing.T) {
	broke := models.User{UserMode: models.ModeGuest}
	if CanPromote(broke, nil, now) {
		t.Fatal("promoted a user with no time and no credits")
	}
	timed := models.User{UserMode: models.ModeGuest, ExpireAt: now.Add(time.Hour).UnixMilli()}
	if !CanPromote(timed, nil, now) {
		t.Fatal("refused a user with valid time")
	}
	funded := models.User{UserMode: models.ModeGuest, PersonalQuota: 500}
	if !CanPromote(funded, nil, now) {
		t.Fatal("refused a user with enough credits")
	}
}
