package service

import (
	"context"
	"testing"
	"time"

	"quotaserver/internal/config"
	"quotaserver/internal/kv"
	"quotaserver/internal/models"
	"quotaserver/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st := store.New(kv.NewMemory())
	return New(config.Config{}, st), st
}

func addUser(t *testing.T, st *store.Store, u models.User) {
	t.Helper()
	if u.Status == "" {
		u.Status = models.UserApproved
	}
	if err := st.PromotePending(context.Background(), u); err != nil {
		t.Fatalf("add user %s: %v", u.Username, err)
	}
}

func TestApprovePromotesPendingAsGuest(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	if err := svc.Register(ctx, "newguy1", "passwd1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := svc.Approve(ctx, "newguy1", ApproveParams{ExpireDays: 30, PersonalQuota: 500})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	u, err := st.GetUser(ctx, "newguy1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if u.Status != models.UserApproved || !u.Enabled {
		t.Fatalf("user = %+v, want approved+enabled", u)
	}
	if u.UserMode != models.ModeGuest {
		t.Fatalf("userMode = %s, approval must not grant normal mode", u.UserMode)
	}
	if u.ExpireAt <= time.Now().UnixMilli() {
		t.Fatalf("expireAt = %d, want future", u.ExpireAt)
	}
	if _, err := st.GetPending(ctx, "newguy1"); err != store.ErrNotFound {
		t.Fatalf("pending record survived approval: %v", err)
	}
}

func TestRejectDeletesPending(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	if err := svc.Register(ctx, "loser99", "passwd1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.Reject(ctx, "loser99"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := st.GetPending(ctx, "loser99"); err != store.ErrNotFound {
		t.Fatalf("pending record survived rejection: %v", err)
	}
	// The name is free again.
	if err := svc.Register(ctx, "loser99", "passwd1"); err != nil {
		t.Fatalf("re-register after reject: %v", err)
	}
}

func TestSetUserModePromotionGate(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	addUser(t, st, models.User{Username: "broke1", Enabled: true, UserMode: models.ModeGuest})
	addUser(t, st, models.User{Username: "rich1", Enabled: true, UserMode: models.ModeGuest, PersonalQuota: 500})

	if err := svc.SetUserMode(ctx, "broke1", "normal"); err == nil {
		t.Fatal("promoted a user with nothing to back normal mode")
	}
	if err := svc.SetUserMode(ctx, "rich1", "normal"); err != nil {
		t.Fatalf("refused a fundable promotion: %v", err)
	}
	// Demotion always works.
	if err := svc.SetUserMode(ctx, "rich1", "guest"); err != nil {
		t.Fatalf("demote: %v", err)
	}
}

func TestSetQuotaResetsCounter(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	addUser(t, st, models.User{Username: "used1", Enabled: true, UserMode: models.ModeNormal,
		PersonalQuota: 200, ExportCount: 150})
	if err := svc.SetQuota(ctx, "used1", 1000); err != nil {
		t.Fatalf("setQuota: %v", err)
	}
	u, _ := st.GetUser(ctx, "used1")
	if u.PersonalQuota != 1000 || u.ExportCount != 0 {
		t.Fatalf("quota=%d count=%d, want 1000/0", u.PersonalQuota, u.ExportCount)
	}
}

func TestToggleUserDisableKillsSession(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	addUser(t, st, models.User{Username: "on1", Enabled: true, UserMode: models.ModeNormal,
		CurrentToken: "tok", TokenCreatedAt: 99})
	enabled, err := svc.ToggleUser(ctx, "on1")
	if err != nil || enabled {
		t.Fatalf("toggle: enabled=%v err=%v, want disabled", enabled, err)
	}
	u, _ := st.GetUser(ctx, "on1")
	if u.CurrentToken != "" || u.TokenCreatedAt != 0 {
		t.Fatalf("session survived disable: %+v", u)
	}
}

func TestBatchPartitionsSuccessAndFailed(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	addUser(t, st, models.User{Username: "real1", Enabled: true, UserMode: models.ModeNormal})

	res := svc.BatchResetExport(ctx, []string{"real1", "ghost9", "Real1"})
	// Real1 normalizes to real1 and succeeds twice; ghost9 fails alone.
	if len(res.Success) != 2 || len(res.Failed) != 1 {
		t.Fatalf("success=%v failed=%v", res.Success, res.Failed)
	}
	if res.Failed[0].Username != "ghost9" || res.Failed[0].Reason == "" {
		t.Fatalf("failed entry = %+v", res.Failed[0])
	}
}

func TestBatchSetLineQuotaSplit(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	if err := svc.AddLine(ctx, "squad", 0, "shared"); err != nil {
		t.Fatalf("addLine: %v", err)
	}
	for _, name := range []string{"m1a", "m2b", "m3c"} {
		addUser(t, st, models.User{Username: name, Enabled: true, UserMode: models.ModeNormal, Line: "squad"})
	}

	res, err := svc.BatchSetLineQuota(ctx, "squad", 1000, "split")
	if err != nil {
		t.Fatalf("batchSetLineQuota: %v", err)
	}
	if len(res.Success) != 3 || len(res.Failed) != 0 {
		t.Fatalf("success=%v failed=%v", res.Success, res.Failed)
	}
	for _, name := range []string{"m1a", "m2b", "m3c"} {
		u, _ := st.GetUser(ctx, name)
		if u.PersonalQuota != 333 || u.ExportCount != 0 {
			t.Fatalf("%s quota=%d count=%d, want 333/0", name, u.PersonalQuota, u.ExportCount)
		}
	}
	l, _ := st.GetLine(ctx, "squad")
	if l.QuotaMode != models.QuotaSplit || l.Quota != 1000 || l.Used != 0 {
		t.Fatalf("line = %+v", l)
	}
}

func TestBatchSetLineQuotaSharedZeroesMembers(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	if err := svc.AddLine(ctx, "squad", 0, "split"); err != nil {
		t.Fatalf("addLine: %v", err)
	}
	addUser(t, st, models.User{Username: "m1a", Enabled: true, UserMode: models.ModeNormal,
		Line: "squad", PersonalQuota: 400, ExportCount: 100})

	if _, err := svc.BatchSetLineQuota(ctx, "squad", 2000, "shared"); err != nil {
		t.Fatalf("batchSetLineQuota: %v", err)
	}
	u, _ := st.GetUser(ctx, "m1a")
	if u.PersonalQuota != 0 || u.ExportCount != 0 {
		t.Fatalf("member kept a personal allowance in shared mode: %+v", u)
	}
}

func TestRemoveLineDetachesMembers(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	if err := svc.AddLine(ctx, "doomed", 100, "shared"); err != nil {
		t.Fatalf("addLine: %v", err)
	}
	addUser(t, st, models.User{Username: "m1a", Enabled: true, UserMode: models.ModeNormal, Line: "doomed"})
	addUser(t, st, models.User{Username: "m2b", Enabled: true, UserMode: models.ModeNormal, Line: "doomed"})

	detached, err := svc.RemoveLine(ctx, "doomed")
	if err != nil {
		t.Fatalf("removeLine: %v", err)
	}
	if detached != 2 {
		t.Fatalf("detached = %d, want 2", detached)
	}
	u, _ := st.GetUser(ctx, "m1a")
	if u.Line != "" {
		t.Fatalf("member still attached: %+v", u)
	}
	if _, err := st.GetLine(ctx, "doomed"); err != store.ErrNotFound {
		t.Fatalf("line survived removal: %v", err)
	}
}

func TestSetLineUsersExpire(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	if err := svc.AddLine(ctx, "squad", 0, "shared"); err != nil {
		t.Fatalf("addLine: %v", err)
	}
	addUser(t, st, models.User{Username: "m1a", Enabled: true, UserMode: models.ModeNormal, Line: "squad"})

	res, err := svc.SetLineUsersExpire(ctx, "squad", 7)
	if err != nil || len(res.Success) != 1 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	u, _ := st.GetUser(ctx, "m1a")
	if u.ExpireAt <= time.Now().UnixMilli() {
		t.Fatalf("expireAt = %d, want future", u.ExpireAt)
	}

	// Zero days clears the horizon.
	if _, err := svc.SetLineUsersExpire(ctx, "squad", 0); err != nil {
		t.Fatalf("clear expire: %v", err)
	}
	u, _ = st.GetUser(ctx, "m1a")
	if u.ExpireAt != 0 {
		t.Fatalf("expireAt = %d, want 0", u.ExpireAt)
	}
}

func TestGetStats(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	addUser(t, st, models.User{Username: "a1x", Enabled: true, UserMode: models.ModeNormal, ExportCount: 10})
	addUser(t, st, models.User{Username: "b2y", Enabled: false, UserMode: models.ModeNormal, ExportCount: 5})
	if err := svc.Register(ctx, "c3z11", "passwd1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	stats, err := svc.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalUsers != 2 || stats.ActiveUsers != 1 || stats.PendingUsers != 1 || stats.TotalExports != 15 {
		t.Fatalf("stats = %+v", stats)
	}
}
