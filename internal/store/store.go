// Package store maps the quota domain onto the kv collaborator. All loose
// encodings (stringly booleans, stringified integers) are normalized here;
// the rest of the service only sees typed snapshots.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"quotaserver/internal/kv"
	"quotaserver/internal/models"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")

const (
	usersSet   = "users"
	pendingSet = "pending_users"
	linesSet   = "lines"

	configKey         = "system:config"
	versionControlKey = "system:version_control"
)

type Store struct {
	kv kv.Store
}

func New(db kv.Store) *Store { return &Store{kv: db} }

func userKey(name string) string    { return "user:" + name }
func pendingKey(name string) string { return "pending:" + name }
func lineKey(name string) string    { return "line:" + name }
func historyKey(name string) string { return "export_history:" + name }

// isTrue accepts the loose boolean encodings left behind by earlier
// revisions of the data set.
func isTrue(v string) bool { return v == "true" || v == "1" }

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func parseInt(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func userFromHash(username string, h map[string]string) models.User {
	u := models.User{
		Username:       username,
		Password:       h["password"],
		Status:         models.UserStatus(h["status"]),
		Enabled:        isTrue(h["enabled"]),
		UserMode:       models.UserMode(h["userMode"]),
		Line:           h["line"],
		ExpireAt:       parseInt(h["expireAt"]),
		PersonalQuota:  parseInt(h["personalQuota"]),
		ExportCount:    parseInt(h["exportCount"]),
		CurrentToken:   h["currentToken"],
		TokenCreatedAt: parseInt(h["tokenCreatedAt"]),
		LastLogin:      parseInt(h["lastLogin"]),
		CreatedAt:      parseInt(h["createdAt"]),
	}
	if u.Status == "" {
		u.Status = models.UserApproved
	}
	// Records written before the mode field existed predate the guest
	// restriction; treat them as unrestricted baseline.
	if u.UserMode == "" {
		u.UserMode = models.ModeNormal
	}
	return u
}

func userToHash(u models.User) map[string]string {
	return map[string]string{
		"password":       u.Password,
		"status":         string(u.Status),
		"enabled":        boolStr(u.Enabled),
		"userMode":       string(u.UserMode),
		"line":           u.Line,
		"expireAt":       strconv.FormatInt(u.ExpireAt, 10),
		"personalQuota":  strconv.FormatInt(u.PersonalQuota, 10),
		"exportCount":    strconv.FormatInt(u.ExportCount, 10),
		"currentToken":   u.CurrentToken,
		"tokenCreatedAt": strconv.FormatInt(u.TokenCreatedAt, 10),
		"lastLogin":      strconv.FormatInt(u.LastLogin, 10),
		"createdAt":      strconv.FormatInt(u.CreatedAt, 10),
	}
}

func lineFromHash(name string, h map[string]string) models.Line {
	l := models.Line{
		Name:      name,
		Quota:     parseInt(h["quota"]),
		Used:      parseInt(h["used"]),
		QuotaMode: models.QuotaMode(h["quotaMode"]),
		Enabled:   h["enabled"] != "false",
		CreatedAt: parseInt(h["createdAt"]),
	}
	if l.QuotaMode == "" {
		l.QuotaMode = models.QuotaShared
	}
	return l
}

// ---- users ----

func (s *Store) GetUser(ctx context.Context, username string) (models.User, error) {
	h, err := s.kv.HGetAll(ctx, userKey(username))
	if err != nil {
		return models.User{}, err
	}
	if len(h) == 0 {
		return models.User{}, ErrNotFound
	}
	return userFromHash(username, h), nil
}

func (s *Store) SetUserFields(ctx context.Context, username string, fields map[string]string) error {
	return s.kv.HSet(ctx, userKey(username), fields)
}

func (s *Store) UserExists(ctx context.Context, username string) (bool, error) {
	h, err := s.kv.HGetAll(ctx, userKey(username))
	if err != nil {
		return false, err
	}
	return len(h) > 0, nil
}

func (s *Store) IncrExportCount(ctx context.Context, username string, delta int64) (int64, error) {
	return s.kv.HIncrBy(ctx, userKey(username), "exportCount", delta)
}

func (s *Store) ListUsernames(ctx context.Context) ([]string, error) {
	return s.kv.SMembers(ctx, usersSet)
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	names, err := s.kv.SMembers(ctx, usersSet)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(names))
	for _, name := range names {
		u, err := s.GetUser(ctx, name)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// UsersInLine scans the whole user set; there is no secondary index.
func (s *Store) UsersInLine(ctx context.Context, line string) ([]models.User, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := users[:0]
	for _, u := range users {
		if u.Line == line {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	if err := s.kv.SRem(ctx, usersSet, username); err != nil {
		return err
	}
	if err := s.kv.SRem(ctx, pendingSet, username); err != nil {
		return err
	}
	return s.kv.Del(ctx, userKey(username), pendingKey(username), historyKey(username))
}

// ---- registration ----

func (s *Store) CreatePending(ctx context.Context, u models.User) error {
	if err := s.kv.HSet(ctx, pendingKey(u.Username), userToHash(u)); err != nil {
		return err
	}
	return s.kv.SAdd(ctx, pendingSet, u.Username)
}

func (s *Store) GetPending(ctx context.Context, username string) (models.User, error) {
	h, err := s.kv.HGetAll(ctx, pendingKey(username))
	if err != nil {
		return models.User{}, err
	}
	if len(h) == 0 {
		return models.User{}, ErrNotFound
	}
	return userFromHash(username, h), nil
}

func (s *Store) ListPending(ctx context.Context) ([]models.User, error) {
	names, err := s.kv.SMembers(ctx, pendingSet)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(names))
	for _, name := range names {
		u, err := s.GetPending(ctx, name)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// PromotePending writes the approved record and retires the pending one.
func (s *Store) PromotePending(ctx context.Context, u models.User) error {
	if err := s.kv.HSet(ctx, userKey(u.Username), userToHash(u)); err != nil {
		return err
	}
	if err := s.kv.SAdd(ctx, usersSet, u.Username); err != nil {
		return err
	}
	if err := s.kv.SRem(ctx, pendingSet, u.Username); err != nil {
		return err
	}
	return s.kv.Del(ctx, pendingKey(u.Username))
}

func (s *Store) DeletePending(ctx context.Context, username string) error {
	if err := s.kv.SRem(ctx, pendingSet, username); err != nil {
		return err
	}
	return s.kv.Del(ctx, pendingKey(username))
}

// ---- lines ----

func (s *Store) CreateLine(ctx context.Context, l models.Line) error {
	exists, err := s.kv.SIsMember(ctx, linesSet, l.Name)
	if err != nil {
		return err
	}
	if exists {
		return ErrConflict
	}
	if err := s.kv.SAdd(ctx, linesSet, l.Name); err != nil {
		return err
	}
	return s.kv.HSet(ctx, lineKey(l.Name), map[string]string{
		"name":      l.Name,
		"quota":     strconv.FormatInt(l.Quota, 10),
		"used":      strconv.FormatInt(l.Used, 10),
		"quotaMode": string(l.QuotaMode),
		"enabled":   boolStr(l.Enabled),
		"createdAt": strconv.FormatInt(l.CreatedAt, 10),
	})
}

func (s *Store) GetLine(ctx context.Context, name string) (models.Line, error) {
	h, err := s.kv.HGetAll(ctx, lineKey(name))
	if err != nil {
		return models.Line{}, err
	}
	if len(h) == 0 {
		return models.Line{}, ErrNotFound
	}
	return lineFromHash(name, h), nil
}

func (s *Store) SetLineFields(ctx context.Context, name string, fields map[string]string) error {
	return s.kv.HSet(ctx, lineKey(name), fields)
}

func (s *Store) IncrLineUsed(ctx context.Context, name string, delta int64) (int64, error) {
	return s.kv.HIncrBy(ctx, lineKey(name), "used", delta)
}

func (s *Store) ListLines(ctx context.Context) ([]models.Line, error) {
	names, err := s.kv.SMembers(ctx, linesSet)
	if err != nil {
		return nil, err
	}
	out := make([]models.Line, 0, len(names))
	for _, name := range names {
		l, err := s.GetLine(ctx, name)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) DeleteLine(ctx context.Context, name string) error {
	if err := s.kv.SRem(ctx, linesSet, name); err != nil {
		return err
	}
	return s.kv.Del(ctx, lineKey(name))
}

// ---- system config ----

func (s *Store) GetConfig(ctx context.Context) (models.SystemConfig, error) {
	h, err := s.kv.HGetAll(ctx, configKey)
	if err != nil {
		return models.SystemConfig{}, err
	}
	return models.SystemConfig{
		Maintenance:         isTrue(h["maintenance"]),
		MaintenanceMessage:  h["maintenanceMessage"],
		Announcement:        h["announcement"],
		AnnouncementEnabled: isTrue(h["announcementEnabled"]),
		LastGlobalKick:      parseInt(h["lastGlobalKick"]),
	}, nil
}

func (s *Store) SetConfigFields(ctx context.Context, fields map[string]string) error {
	return s.kv.HSet(ctx, configKey, fields)
}

func (s *Store) SetLastGlobalKick(ctx context.Context, at time.Time) error {
	return s.kv.HSet(ctx, configKey, map[string]string{
		"lastGlobalKick": strconv.FormatInt(at.UnixMilli(), 10),
	})
}

func (s *Store) GetVersionControl(ctx context.Context) (models.VersionControl, error) {
	h, err := s.kv.HGetAll(ctx, versionControlKey)
	if err != nil {
		return models.VersionControl{}, err
	}
	return models.VersionControl{
		Enabled:     isTrue(h["enabled"]),
		MinVersion:  h["minVersion"],
		LockMessage: h["lockMessage"],
	}, nil
}

func (s *Store) SetVersionControl(ctx context.Context, vc models.VersionControl) error {
	return s.kv.HSet(ctx, versionControlKey, map[string]string{
		"enabled":     boolStr(vc.Enabled),
		"minVersion":  vc.MinVersion,
		"lockMessage": vc.LockMessage,
	})
}

// ---- usage history ----

func (s *Store) AppendHistory(ctx context.Context, username string, e models.HistoryEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.kv.LPush(ctx, historyKey(username), string(raw))
}

func (s *Store) ListHistory(ctx context.Context, username string, limit int64) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := s.kv.LRange(ctx, historyKey(username), 0, limit-1)
	if err != nil {
		return nil, err
	}
	out := make([]models.HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var e models.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.kv.Ping(ctx) }
