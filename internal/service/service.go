// Package service implements the account, session, and export operations on
// top of the domain store. Handlers stay thin; every rule lives here.
package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"quotaserver/internal/auth"
	"quotaserver/internal/config"
	"quotaserver/internal/entitle"
	"quotaserver/internal/ledger"
	"quotaserver/internal/models"
	"quotaserver/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrPendingApproval    = errors.New("account pending approval")
	ErrDisabled           = errors.New("account disabled")
	ErrInvalidToken       = errors.New("invalid token")
	ErrKicked             = errors.New("session terminated")
)

// ValidationError carries a message safe to echo back verbatim.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

// MaintenanceError carries the operator-set message shown to clients while
// the service is closed.
type MaintenanceError struct {
	Msg string
}

func (e *MaintenanceError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "service under maintenance"
}

var (
	usernameRx = regexp.MustCompile(`^[a-zA-Z0-9]{3,20}$`)
	passwordRx = regexp.MustCompile(`^[a-zA-Z0-9]{6,30}$`)
)

// mixedAlnum requires at least one letter and one digit, which keeps
// all-digit usernames (phone numbers) and all-letter throwaways out.
func mixedAlnum(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		default:
			letter = true
		}
	}
	return letter && digit
}

type Service struct {
	cfg config.Config
	st  *store.Store
	led *ledger.Ledger
}

func New(cfg config.Config, st *store.Store) *Service {
	return &Service{cfg: cfg, st: st, led: ledger.New(st)}
}

// UserView is the client-facing snapshot. Mode is the effective
// classification, not the stored baseline, and the password never leaves
// through this path.
type UserView struct {
	Username      string `json:"username"`
	Status        string `json:"status"`
	Enabled       bool   `json:"enabled"`
	Mode          string `json:"userMode"`
	Line          string `json:"line,omitempty"`
	ExpireAt      int64  `json:"expireAt"`
	PersonalQuota int64  `json:"personalQuota"`
	ExportCount   int64  `json:"exportCount"`
	LastLogin     int64  `json:"lastLogin,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
}

func viewOf(u models.User, d entitle.Decision) UserView {
	return UserView{
		Username:      u.Username,
		Status:        string(u.Status),
		Enabled:       u.Enabled,
		Mode:          string(d.Mode),
		Line:          u.Line,
		ExpireAt:      u.ExpireAt,
		PersonalQuota: u.PersonalQuota,
		ExportCount:   u.ExportCount,
		LastLogin:     u.LastLogin,
		CreatedAt:     u.CreatedAt,
	}
}

type SessionResult struct {
	Token        string           `json:"token,omitempty"`
	User         UserView         `json:"user"`
	Decision     entitle.Decision `json:"entitlement"`
	Announcement string           `json:"announcement,omitempty"`
}

func norm(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *Service) requireOpen(ctx context.Context) (models.SystemConfig, error) {
	cfg, err := s.st.GetConfig(ctx)
	if err != nil {
		return models.SystemConfig{}, err
	}
	if cfg.Maintenance {
		return cfg, &MaintenanceError{Msg: cfg.MaintenanceMessage}
	}
	return cfg, nil
}

func (s *Service) lineOf(ctx context.Context, u models.User) (*models.Line, error) {
	if u.Line == "" {
		return nil, nil
	}
	l, err := s.st.GetLine(ctx, u.Line)
	if err == store.ErrNotFound {
		// A detached or deleted line degrades to "no line" rather than
		// failing every call the member makes.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Register queues a pending account for admin review. Duplicates against
// both the active and pending populations are rejected up front.
func (s *Service) Register(ctx context.Context, username, password string) error {
	username = norm(username)
	if !usernameRx.MatchString(username) || !mixedAlnum(username) {
		return ValidationError("username must be 3-20 characters, letters and digits, with at least one of each")
	}
	if !passwordRx.MatchString(password) || !mixedAlnum(password) {
		return ValidationError("password must be 6-30 characters, letters and digits, with at least one of each")
	}
	exists, err := s.st.UserExists(ctx, username)
	if err != nil {
		return err
	}
	if !exists {
		if _, err := s.st.GetPending(ctx, username); err == nil {
			exists = true
		} else if err != store.ErrNotFound {
			return err
		}
	}
	if exists {
		return ValidationError("username already taken")
	}
	now := time.Now().UnixMilli()
	return s.st.CreatePending(ctx, models.User{
		Username:  username,
		Password:  password,
		Status:    models.UserPending,
		Enabled:   false,
		UserMode:  models.ModeGuest,
		CreatedAt: now,
	})
}

// Login issues a fresh token, replacing any existing session. Expired time
// or exhausted credits do not block login; they come back as a guest-mode
// decision so the client can show the right screen.
func (s *Service) Login(ctx context.Context, username, password string) (SessionResult, error) {
	cfg, err := s.requireOpen(ctx)
	if err != nil {
		return SessionResult{}, err
	}
	username = norm(username)

	if _, err := s.st.GetPending(ctx, username); err == nil {
		return SessionResult{}, ErrPendingApproval
	} else if err != store.ErrNotFound {
		return SessionResult{}, err
	}

	u, err := s.st.GetUser(ctx, username)
	if err == store.ErrNotFound {
		return SessionResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return SessionResult{}, err
	}
	if u.Password != password {
		return SessionResult{}, ErrInvalidCredentials
	}
	if !u.Enabled {
		return SessionResult{}, ErrDisabled
	}

	token, err := auth.NewOpaqueToken()
	if err != nil {
		return SessionResult{}, err
	}
	now := time.Now()
	nowMS := now.UnixMilli()
	if err := s.st.SetUserFields(ctx, username, map[string]string{
		"currentToken":   token,
		"tokenCreatedAt": itoa(nowMS),
		"lastLogin":      itoa(nowMS),
	}); err != nil {
		return SessionResult{}, err
	}
	u.CurrentToken = token
	u.TokenCreatedAt = nowMS
	u.LastLogin = nowMS

	line, err := s.lineOf(ctx, u)
	if err != nil {
		return SessionResult{}, err
	}
	d := entitle.Classify(u, line, now)
	res := SessionResult{Token: token, User: viewOf(u, d), Decision: d}
	if cfg.AnnouncementEnabled && cfg.Announcement != "" {
		res.Announcement = cfg.Announcement
	}
	return res, nil
}

// Verify validates the presented token against the stored session and the
// global kick watermark, then re-classifies the user.
func (s *Service) Verify(ctx context.Context, username, token string) (SessionResult, error) {
	cfg, err := s.requireOpen(ctx)
	if err != nil {
		return SessionResult{}, err
	}
	u, err := s.authenticate(ctx, username, token, cfg)
	if err != nil {
		return SessionResult{}, err
	}
	line, err := s.lineOf(ctx, u)
	if err != nil {
		return SessionResult{}, err
	}
	d := entitle.Classify(u, line, time.Now())
	res := SessionResult{User: viewOf(u, d), Decision: d}
	if cfg.AnnouncementEnabled && cfg.Announcement != "" {
		res.Announcement = cfg.Announcement
	}
	return res, nil
}

func (s *Service) authenticate(ctx context.Context, username, token string, cfg models.SystemConfig) (models.User, error) {
	username = norm(username)
	u, err := s.st.GetUser(ctx, username)
	if err == store.ErrNotFound {
		return models.User{}, ErrInvalidToken
	}
	if err != nil {
		return models.User{}, err
	}
	if token == "" || u.CurrentToken == "" || token != u.CurrentToken {
		return models.User{}, ErrKicked
	}
	if u.TokenCreatedAt < cfg.LastGlobalKick {
		return models.User{}, ErrKicked
	}
	if !u.Enabled {
		return models.User{}, ErrDisabled
	}
	return u, nil
}

type CheckResult struct {
	Exists   bool   `json:"exists"`
	Status   string `json:"status,omitempty"`
	Enabled  bool   `json:"enabled,omitempty"`
	Mode     string `json:"userMode,omitempty"`
	Line     string `json:"line,omitempty"`
	ExpireAt int64  `json:"expireAt,omitempty"`
}

// Check is the public account probe; it never reveals more than the client
// already learns by attempting a login.
func (s *Service) Check(ctx context.Context, username string) (CheckResult, error) {
	username = norm(username)
	if _, err := s.st.GetPending(ctx, username); err == nil {
		return CheckResult{Exists: true, Status: string(models.UserPending)}, nil
	} else if err != store.ErrNotFound {
		return CheckResult{}, err
	}
	u, err := s.st.GetUser(ctx, username)
	if err == store.ErrNotFound {
		return CheckResult{}, nil
	}
	if err != nil {
		return CheckResult{}, err
	}
	line, err := s.lineOf(ctx, u)
	if err != nil {
		return CheckResult{}, err
	}
	d := entitle.Classify(u, line, time.Now())
	return CheckResult{
		Exists:   true,
		Status:   string(u.Status),
		Enabled:  u.Enabled,
		Mode:     string(d.Mode),
		Line:     u.Line,
		ExpireAt: u.ExpireAt,
	}, nil
}

type ExportResult struct {
	ledger.Result
	Mode string `json:"userMode"`
}

// Export authenticates the session and debits the requested count.
// Source tags the audit entry: "export" for reports, "extract" for
// explicit deductions.
func (s *Service) Export(ctx context.Context, username, token string, count int64, source string) (ExportResult, error) {
	cfg, err := s.requireOpen(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	u, err := s.authenticate(ctx, username, token, cfg)
	if err != nil {
		return ExportResult{}, err
	}
	line, err := s.lineOf(ctx, u)
	if err != nil {
		return ExportResult{}, err
	}
	if count <= 0 {
		count = 1
	}
	res, err := s.led.Debit(ctx, u, line, count, source)
	if err != nil {
		return ExportResult{Result: res, Mode: string(res.Decision.Mode)}, err
	}
	mode := models.ModeNormal
	if res.BecameGuest {
		mode = models.ModeGuest
	}
	return ExportResult{Result: res, Mode: string(mode)}, nil
}

type StatusResult struct {
	Maintenance        bool   `json:"maintenance"`
	MaintenanceMessage string `json:"maintenanceMessage,omitempty"`
	Announcement       string `json:"announcement,omitempty"`
}

func (s *Service) Status(ctx context.Context) (StatusResult, error) {
	cfg, err := s.st.GetConfig(ctx)
	if err != nil {
		return StatusResult{}, err
	}
	out := StatusResult{Maintenance: cfg.Maintenance, MaintenanceMessage: cfg.MaintenanceMessage}
	if cfg.AnnouncementEnabled {
		out.Announcement = cfg.Announcement
	}
	return out, nil
}

type VersionCheckResult struct {
	Locked     bool   `json:"locked"`
	MinVersion string `json:"minVersion,omitempty"`
	Msg        string `json:"msg,omitempty"`
}

func (s *Service) Ping(ctx context.Context) error { return s.st.Ping(ctx) }
