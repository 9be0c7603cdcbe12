package service

import (
	"context"
	"time"

	"quotaserver/internal/models"
)

// LineInfo is a team record plus the member count, which is derived by
// scanning users since membership has no secondary index.
type LineInfo struct {
	Name      string `json:"name"`
	Quota     int64  `json:"quota"`
	Used      int64  `json:"used"`
	QuotaMode string `json:"quotaMode"`
	Enabled   bool   `json:"enabled"`
	CreatedAt int64  `json:"createdAt"`
	Members   int    `json:"members"`
}

func (s *Service) AddLine(ctx context.Context, name string, quota int64, quotaMode string) error {
	name = norm(name)
	if name == "" {
		return ValidationError("line name is required")
	}
	if quota < 0 {
		return ValidationError("quota must be >= 0")
	}
	mode := models.QuotaMode(quotaMode)
	if mode == "" {
		mode = models.QuotaShared
	}
	if mode != models.QuotaShared && mode != models.QuotaSplit {
		return ValidationError("quotaMode must be shared or split")
	}
	return s.st.CreateLine(ctx, models.Line{
		Name:      name,
		Quota:     quota,
		QuotaMode: mode,
		Enabled:   true,
		CreatedAt: time.Now().UnixMilli(),
	})
}

// SetLineQuota updates the pool ceiling and restarts its window. In shared
// mode member personalQuota is zeroed so everyone draws from the pool
// again; stale personal allowances would otherwise shadow it.
func (s *Service) SetLineQuota(ctx context.Context, name string, quota int64) error {
	name = norm(name)
	if quota < 0 {
		return ValidationError("quota must be >= 0")
	}
	l, err := s.st.GetLine(ctx, name)
	if err != nil {
		return err
	}
	if err := s.st.SetLineFields(ctx, name, map[string]string{
		"quota": itoa(quota),
		"used":  "0",
	}); err != nil {
		return err
	}
	if l.QuotaMode != models.QuotaShared {
		return nil
	}
	members, err := s.st.UsersInLine(ctx, name)
	if err != nil {
		return err
	}
	for _, u := range members {
		if err := s.st.SetUserFields(ctx, u.Username, map[string]string{
			"personalQuota": "0",
			"exportCount":   "0",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ResetLineUsage(ctx context.Context, name string) error {
	name = norm(name)
	if _, err := s.st.GetLine(ctx, name); err != nil {
		return err
	}
	return s.st.SetLineFields(ctx, name, map[string]string{"used": "0"})
}

// RemoveLine deletes the team and detaches its members rather than
// orphaning them against a dangling line reference.
func (s *Service) RemoveLine(ctx context.Context, name string) (detached int, err error) {
	name = norm(name)
	if _, err := s.st.GetLine(ctx, name); err != nil {
		return 0, err
	}
	members, err := s.st.UsersInLine(ctx, name)
	if err != nil {
		return 0, err
	}
	for _, u := range members {
		if err := s.st.SetUserFields(ctx, u.Username, map[string]string{"line": ""}); err != nil {
			return detached, err
		}
		detached++
	}
	return detached, s.st.DeleteLine(ctx, name)
}

func (s *Service) ListLines(ctx context.Context) ([]LineInfo, error) {
	lines, err := s.st.ListLines(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.st.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, u := range users {
		if u.Line != "" {
			counts[u.Line]++
		}
	}
	out := make([]LineInfo, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineInfo{
			Name:      l.Name,
			Quota:     l.Quota,
			Used:      l.Used,
			QuotaMode: string(l.QuotaMode),
			Enabled:   l.Enabled,
			CreatedAt: l.CreatedAt,
			Members:   counts[l.Name],
		})
	}
	return out, nil
}

// BatchSetLineQuota reconfigures a whole team in one call. Split mode
// distributes floor(total/members) into each member's personalQuota and the
// pool counters become informational; shared mode zeroes member allowances
// so the pool gates again.
func (s *Service) BatchSetLineQuota(ctx context.Context, name string, total int64, quotaMode string) (BatchResult, error) {
	name = norm(name)
	if total < 0 {
		return BatchResult{}, ValidationError("quota must be >= 0")
	}
	mode := models.QuotaMode(quotaMode)
	if mode != models.QuotaShared && mode != models.QuotaSplit {
		return BatchResult{}, ValidationError("quotaMode must be shared or split")
	}
	if _, err := s.st.GetLine(ctx, name); err != nil {
		return BatchResult{}, err
	}
	members, err := s.st.UsersInLine(ctx, name)
	if err != nil {
		return BatchResult{}, err
	}

	var per int64
	if mode == models.QuotaSplit && len(members) > 0 {
		per = total / int64(len(members))
	}
	if err := s.st.SetLineFields(ctx, name, map[string]string{
		"quota":     itoa(total),
		"used":      "0",
		"quotaMode": string(mode),
	}); err != nil {
		return BatchResult{}, err
	}

	names := make([]string, 0, len(members))
	for _, u := range members {
		names = append(names, u.Username)
	}
	return s.runBatch(names, func(username string) error {
		return s.st.SetUserFields(ctx, username, map[string]string{
			"personalQuota": itoa(per),
			"exportCount":   "0",
		})
	}), nil
}

// SetLineUsersExpire applies one expiry horizon to every member of a team.
func (s *Service) SetLineUsersExpire(ctx context.Context, name string, days int64) (BatchResult, error) {
	name = norm(name)
	if _, err := s.st.GetLine(ctx, name); err != nil {
		return BatchResult{}, err
	}
	members, err := s.st.UsersInLine(ctx, name)
	if err != nil {
		return BatchResult{}, err
	}
	at := expireAtFromDays(days, time.Now())
	names := make([]string, 0, len(members))
	for _, u := range members {
		names = append(names, u.Username)
	}
	return s.runBatch(names, func(username string) error {
		return s.st.SetUserFields(ctx, username, map[string]string{"expireAt": itoa(at)})
	}), nil
}
