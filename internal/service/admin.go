package service

import (
	"context"
	"sort"
	"strconv"
	"time"

	"quotaserver/internal/entitle"
	"quotaserver/internal/models"
	"quotaserver/internal/semver"
)

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func expireAtFromDays(days int64, now time.Time) int64 {
	if days <= 0 {
		return 0
	}
	return now.Add(time.Duration(days) * 24 * time.Hour).UnixMilli()
}

// AdminUser is the operator-facing record. Unlike UserView it includes the
// plaintext password; operators hand credentials out over side channels and
// this system stores them recoverable on purpose.
type AdminUser struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Status        string `json:"status"`
	Enabled       bool   `json:"enabled"`
	UserMode      string `json:"userMode"`
	Line          string `json:"line,omitempty"`
	ExpireAt      int64  `json:"expireAt"`
	PersonalQuota int64  `json:"personalQuota"`
	ExportCount   int64  `json:"exportCount"`
	LastLogin     int64  `json:"lastLogin"`
	CreatedAt     int64  `json:"createdAt"`
}

func adminUserOf(u models.User) AdminUser {
	return AdminUser{
		Username:      u.Username,
		Password:      u.Password,
		Status:        string(u.Status),
		Enabled:       u.Enabled,
		UserMode:      string(u.UserMode),
		Line:          u.Line,
		ExpireAt:      u.ExpireAt,
		PersonalQuota: u.PersonalQuota,
		ExportCount:   u.ExportCount,
		LastLogin:     u.LastLogin,
		CreatedAt:     u.CreatedAt,
	}
}

// ---- registration review ----

type ApproveParams struct {
	Line          string
	ExpireDays    int64
	PersonalQuota int64
}

// Approve promotes a pending registration to an active account. The new
// account starts in guest mode; granting normal mode is a separate,
// deliberate step.
func (s *Service) Approve(ctx context.Context, username string, p ApproveParams) error {
	username = norm(username)
	u, err := s.st.GetPending(ctx, username)
	if err != nil {
		return err
	}
	u.Status = models.UserApproved
	u.Enabled = true
	u.UserMode = models.ModeGuest
	u.Line = norm(p.Line)
	u.ExpireAt = expireAtFromDays(p.ExpireDays, time.Now())
	u.PersonalQuota = p.PersonalQuota
	return s.st.PromotePending(ctx, u)
}

func (s *Service) Reject(ctx context.Context, username string) error {
	username = norm(username)
	if _, err := s.st.GetPending(ctx, username); err != nil {
		return err
	}
	return s.st.DeletePending(ctx, username)
}

func (s *Service) ListPending(ctx context.Context) ([]AdminUser, error) {
	users, err := s.st.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AdminUser, 0, len(users))
	for _, u := range users {
		out = append(out, adminUserOf(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// ---- single-user mutations ----

func (s *Service) ToggleUser(ctx context.Context, username string) (enabled bool, err error) {
	username = norm(username)
	u, err := s.st.GetUser(ctx, username)
	if err != nil {
		return false, err
	}
	enabled = !u.Enabled
	fields := map[string]string{"enabled": strconv.FormatBool(enabled)}
	if !enabled {
		// Disabling also ends the current session.
		fields["currentToken"] = ""
		fields["tokenCreatedAt"] = "0"
	}
	return enabled, s.st.SetUserFields(ctx, username, fields)
}

func (s *Service) KickUser(ctx context.Context, username string) error {
	username = norm(username)
	if _, err := s.st.GetUser(ctx, username); err != nil {
		return err
	}
	return s.st.SetUserFields(ctx, username, map[string]string{
		"currentToken":   "",
		"tokenCreatedAt": "0",
	})
}

func (s *Service) RemoveUser(ctx context.Context, username string) error {
	username = norm(username)
	if _, err := s.st.GetUser(ctx, username); err != nil {
		return err
	}
	return s.st.DeleteUser(ctx, username)
}

func (s *Service) SetUserLine(ctx context.Context, username, line string) error {
	username = norm(username)
	line = norm(line)
	if _, err := s.st.GetUser(ctx, username); err != nil {
		return err
	}
	if line != "" {
		if _, err := s.st.GetLine(ctx, line); err != nil {
			return err
		}
	}
	return s.st.SetUserFields(ctx, username, map[string]string{"line": line})
}

func (s *Service) SetExpire(ctx context.Context, username string, days int64) (int64, error) {
	username = norm(username)
	if _, err := s.st.GetUser(ctx, username); err != nil {
		return 0, err
	}
	at := expireAtFromDays(days, time.Now())
	return at, s.st.SetUserFields(ctx, username, map[string]string{"expireAt": itoa(at)})
}

// SetQuota replaces the personal allowance and zeroes the usage counter;
// a quota change opens a fresh window rather than inheriting old spend.
func (s *Service) SetQuota(ctx context.Context, username string, quota int64) error {
	username = norm(username)
	if quota < 0 {
		return ValidationError("quota must be >= 0")
	}
	if _, err := s.st.GetUser(ctx, username); err != nil {
		return err
	}
	return s.st.SetUserFields(ctx, username, map[string]string{
		"personalQuota": itoa(quota),
		"exportCount":   "0",
	})
}

func (s *Service) ResetExport(ctx context.Context, username string) error {
	username = norm(username)
	if _, err := s.st.GetUser(ctx, username); err != nil {
		return err
	}
	return s.st.SetUserFields(ctx, username, map[string]string{"exportCount": "0"})
}

// SetUserMode sets the stored baseline. Demoting to guest always works;
// promoting to normal is refused while the user has neither valid time nor
// enough credits, because the next gate would revoke it immediately.
func (s *Service) SetUserMode(ctx context.Context, username, mode string) error {
	username = norm(username)
	m := models.UserMode(mode)
	if m != models.ModeGuest && m != models.ModeNormal {
		return ValidationError("userMode must be guest or normal")
	}
	u, err := s.st.GetUser(ctx, username)
	if err != nil {
		return err
	}
	if m == models.ModeNormal {
		line, err := s.lineOf(ctx, u)
		if err != nil {
			return err
		}
		if !entitle.CanPromote(u, line, time.Now()) {
			return ValidationError("cannot promote: user has no valid time and not enough credits")
		}
	}
	return s.st.SetUserFields(ctx, username, map[string]string{"userMode": string(m)})
}

// ---- batch mutations ----

type BatchFailure struct {
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

// BatchResult partitions a batch into the targets that succeeded and the
// ones that failed with why. One bad target never aborts the rest.
type BatchResult struct {
	Success []string       `json:"success"`
	Failed  []BatchFailure `json:"failed"`
}

func (s *Service) runBatch(usernames []string, op func(username string) error) BatchResult {
	out := BatchResult{Success: []string{}, Failed: []BatchFailure{}}
	for _, raw := range usernames {
		username := norm(raw)
		if username == "" {
			continue
		}
		if err := op(username); err != nil {
			out.Failed = append(out.Failed, BatchFailure{Username: username, Reason: err.Error()})
			continue
		}
		out.Success = append(out.Success, username)
	}
	return out
}

func (s *Service) BatchSetLine(ctx context.Context, usernames []string, line string) (BatchResult, error) {
	line = norm(line)
	if line != "" {
		if _, err := s.st.GetLine(ctx, line); err != nil {
			return BatchResult{}, err
		}
	}
	return s.runBatch(usernames, func(username string) error {
		return s.SetUserLine(ctx, username, line)
	}), nil
}

func (s *Service) BatchSetExpire(ctx context.Context, usernames []string, days int64) BatchResult {
	return s.runBatch(usernames, func(username string) error {
		_, err := s.SetExpire(ctx, username, days)
		return err
	})
}

func (s *Service) BatchSetQuota(ctx context.Context, usernames []string, quota int64) BatchResult {
	return s.runBatch(usernames, func(username string) error {
		return s.SetQuota(ctx, username, quota)
	})
}

func (s *Service) BatchResetExport(ctx context.Context, usernames []string) BatchResult {
	return s.runBatch(usernames, func(username string) error {
		return s.ResetExport(ctx, username)
	})
}

func (s *Service) BatchSetUserMode(ctx context.Context, usernames []string, mode string) BatchResult {
	return s.runBatch(usernames, func(username string) error {
		return s.SetUserMode(ctx, username, mode)
	})
}

// ---- reads ----

func (s *Service) ListUsers(ctx context.Context) ([]AdminUser, error) {
	users, err := s.st.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AdminUser, 0, len(users))
	for _, u := range users {
		out = append(out, adminUserOf(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

type Stats struct {
	TotalUsers   int   `json:"totalUsers"`
	ActiveUsers  int   `json:"activeUsers"`
	PendingUsers int   `json:"pendingUsers"`
	TotalLines   int   `json:"totalLines"`
	TotalExports int64 `json:"totalExports"`
}

func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	users, err := s.st.ListUsers(ctx)
	if err != nil {
		return Stats{}, err
	}
	pending, err := s.st.ListPending(ctx)
	if err != nil {
		return Stats{}, err
	}
	lines, err := s.st.ListLines(ctx)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{TotalUsers: len(users), PendingUsers: len(pending), TotalLines: len(lines)}
	for _, u := range users {
		if u.Enabled {
			out.ActiveUsers++
		}
		out.TotalExports += u.ExportCount
	}
	return out, nil
}

func (s *Service) ExportHistory(ctx context.Context, username string, limit int64) ([]models.HistoryEntry, error) {
	username = norm(username)
	if _, err := s.st.GetUser(ctx, username); err != nil {
		return nil, err
	}
	return s.st.ListHistory(ctx, username, limit)
}

// ---- global controls ----

func (s *Service) KickAll(ctx context.Context) error {
	return s.st.SetLastGlobalKick(ctx, time.Now())
}

type ConfigUpdate struct {
	Maintenance         *bool
	MaintenanceMessage  *string
	Announcement        *string
	AnnouncementEnabled *bool
}

// SetConfig applies only the provided fields so two operators editing
// different knobs do not clobber each other.
func (s *Service) SetConfig(ctx context.Context, upd ConfigUpdate) (models.SystemConfig, error) {
	fields := map[string]string{}
	if upd.Maintenance != nil {
		fields["maintenance"] = strconv.FormatBool(*upd.Maintenance)
	}
	if upd.MaintenanceMessage != nil {
		fields["maintenanceMessage"] = *upd.MaintenanceMessage
	}
	if upd.Announcement != nil {
		fields["announcement"] = *upd.Announcement
	}
	if upd.AnnouncementEnabled != nil {
		fields["announcementEnabled"] = strconv.FormatBool(*upd.AnnouncementEnabled)
	}
	if len(fields) > 0 {
		if err := s.st.SetConfigFields(ctx, fields); err != nil {
			return models.SystemConfig{}, err
		}
	}
	return s.st.GetConfig(ctx)
}

func (s *Service) GetSystemConfig(ctx context.Context) (models.SystemConfig, error) {
	return s.st.GetConfig(ctx)
}

func (s *Service) GetVersionControl(ctx context.Context) (models.VersionControl, error) {
	return s.st.GetVersionControl(ctx)
}

func (s *Service) SetVersionControl(ctx context.Context, vc models.VersionControl) error {
	return s.st.SetVersionControl(ctx, vc)
}

// VersionCheck reports whether a client build is locked out. The check
// fails open on every edge: control disabled, no minimum set, or an
// unparseable client version.
func (s *Service) VersionCheck(ctx context.Context, clientVersion string) (VersionCheckResult, error) {
	vc, err := s.st.GetVersionControl(ctx)
	if err != nil {
		return VersionCheckResult{}, err
	}
	if !vc.Enabled || vc.MinVersion == "" || clientVersion == "" {
		return VersionCheckResult{Locked: false}, nil
	}
	if semver.AtLeast(clientVersion, vc.MinVersion) {
		return VersionCheckResult{Locked: false, MinVersion: vc.MinVersion}, nil
	}
	return VersionCheckResult{Locked: true, MinVersion: vc.MinVersion, Msg: vc.LockMessage}, nil
}
