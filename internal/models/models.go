package models

type UserStatus string

const (
	UserPending  UserStatus = "pending"
	UserApproved UserStatus = "approved"
	UserDisabled UserStatus = "disabled"
	UserLocked   UserStatus = "locked"
)

type UserMode string

const (
	ModeGuest  UserMode = "guest"
	ModeNormal UserMode = "normal"
)

type QuotaMode string

const (
	QuotaShared QuotaMode = "shared"
	QuotaSplit  QuotaMode = "split"
)

// User is a typed snapshot of a user:<name> hash. Timestamps are unix
// milliseconds; ExpireAt == 0 means no expiry is set, not "already expired".
type User struct {
	Username       string     `json:"username"`
	Password       string     `json:"password,omitempty"`
	Status         UserStatus `json:"status"`
	Enabled        bool       `json:"enabled"`
	UserMode       UserMode   `json:"userMode"`
	Line           string     `json:"line"`
	ExpireAt       int64      `json:"expireAt"`
	PersonalQuota  int64      `json:"personalQuota"`
	ExportCount    int64      `json:"exportCount"`
	CurrentToken   string     `json:"-"`
	TokenCreatedAt int64      `json:"-"`
	LastLogin      int64      `json:"lastLogin,omitempty"`
	CreatedAt      int64      `json:"createdAt"`
}

// Line is a team sharing one credit pool. Quota == 0 means unlimited. In
// split mode the pool has already been distributed into member personal
// quotas and Used/Quota are informational only.
type Line struct {
	Name      string    `json:"name"`
	Quota     int64     `json:"quota"`
	Used      int64     `json:"used"`
	QuotaMode QuotaMode `json:"quotaMode"`
	Enabled   bool      `json:"enabled"`
	CreatedAt int64     `json:"createdAt"`
}

// SystemConfig is the single global configuration record. Any token issued
// before LastGlobalKick is invalid.
type SystemConfig struct {
	Maintenance         bool   `json:"maintenance"`
	MaintenanceMessage  string `json:"maintenanceMessage"`
	Announcement        string `json:"announcement"`
	AnnouncementEnabled bool   `json:"announcementEnabled"`
	LastGlobalKick      int64  `json:"lastGlobalKick"`
}

type VersionControl struct {
	Enabled     bool   `json:"enabled"`
	MinVersion  string `json:"minVersion"`
	LockMessage string `json:"lockMessage"`
}

// HistoryEntry is one append-only usage record. Audit only; the
// authoritative counter is User.ExportCount.
type HistoryEntry struct {
	Count     int64  `json:"count"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
}
