package api

import (
	"net/http"
	"strconv"

	"quotaserver/internal/models"
	"quotaserver/internal/service"
	"quotaserver/internal/util"
)

// adminRequest is the union of every admin action's fields; each action
// reads only what it needs.
type adminRequest struct {
	Username      string   `json:"username"`
	Usernames     []string `json:"usernames"`
	Line          string   `json:"line"`
	ExpireDays    int64    `json:"expireDays"`
	PersonalQuota int64    `json:"personalQuota"`
	Quota         int64    `json:"quota"`
	QuotaMode     string   `json:"quotaMode"`
	UserMode      string   `json:"userMode"`
	Limit         int64    `json:"limit"`

	Maintenance         *bool   `json:"maintenance"`
	MaintenanceMessage  *string `json:"maintenanceMessage"`
	Announcement        *string `json:"announcement"`
	AnnouncementEnabled *bool   `json:"announcementEnabled"`

	Enabled     *bool  `json:"enabled"`
	MinVersion  string `json:"minVersion"`
	LockMessage string `json:"lockMessage"`
}

func (h *Handlers) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.URL.Query().Get("action") {
	case "users":
		users, err := h.svc.ListUsers(ctx)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{"users": users})

	case "pending":
		users, err := h.svc.ListPending(ctx)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{"pending": users})

	case "lines":
		lines, err := h.svc.ListLines(ctx)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{"lines": lines})

	case "stats":
		stats, err := h.svc.GetStats(ctx)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{"stats": stats})

	case "config":
		cfg, err := h.svc.GetSystemConfig(ctx)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{"config": cfg})

	case "versionControl":
		vc, err := h.svc.GetVersionControl(ctx)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{"versionControl": vc})

	case "exportHistory":
		q := r.URL.Query()
		entries, err := h.svc.ExportHistory(ctx, q.Get("username"), parseLimit(q.Get("limit")))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{"history": entries})

	default:
		util.WriteError(w, http.StatusBadRequest, "bad_request", "unknown action")
	}
}

func (h *Handlers) handleAdminPost(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	switch r.URL.Query().Get("action") {
	case "approve":
		err := h.svc.Approve(ctx, req.Username, service.ApproveParams{
			Line:          req.Line,
			ExpireDays:    req.ExpireDays,
			PersonalQuota: req.PersonalQuota,
		})
		h.writeDone(w, r, err)

	case "reject":
		h.writeDone(w, r, h.svc.Reject(ctx, req.Username))

	case "toggleUser":
		enabled, err := h.svc.ToggleUser(ctx, req.Username)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{"enabled": enabled})

	case "kickUser":
		h.writeDone(w, r, h.svc.KickUser(ctx, req.Username))

	case "removeUser":
		h.writeDone(w, r, h.svc.RemoveUser(ctx, req.Username))

	case "setLine":
		h.writeDone(w, r, h.svc.SetUserLine(ctx, req.Username, req.Line))

	case "setExpire":
		at, err := h.svc.SetExpire(ctx, req.Username, req.ExpireDays)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{"expireAt": at})

	case "setQuota":
		h.writeDone(w, r, h.svc.SetQuota(ctx, req.Username, req.PersonalQuota))

	case "resetExport":
		h.writeDone(w, r, h.svc.ResetExport(ctx, req.Username))

	case "setUserMode":
		h.writeDone(w, r, h.svc.SetUserMode(ctx, req.Username, req.UserMode))

	case "addLine":
		h.writeDone(w, r, h.svc.AddLine(ctx, req.Line, req.Quota, req.QuotaMode))

	case "setLineQuota":
		h.writeDone(w, r, h.svc.SetLineQuota(ctx, req.Line, req.Quota))

	case "resetLineUsage":
		h.writeDone(w, r, h.svc.ResetLineUsage(ctx, req.Line))

	case "removeLine":
		detached, err := h.svc.RemoveLine(ctx, req.Line)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{"detached": detached})

	case "setConfig":
		cfg, err := h.svc.SetConfig(ctx, service.ConfigUpdate{
			Maintenance:         req.Maintenance,
			MaintenanceMessage:  req.MaintenanceMessage,
			Announcement:        req.Announcement,
			AnnouncementEnabled: req.AnnouncementEnabled,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{"config": cfg})

	case "kickAll":
		h.writeDone(w, r, h.svc.KickAll(ctx))

	case "setVersionControl":
		vc := models.VersionControl{MinVersion: req.MinVersion, LockMessage: req.LockMessage}
		if req.Enabled != nil {
			vc.Enabled = *req.Enabled
		}
		h.writeDone(w, r, h.svc.SetVersionControl(ctx, vc))

	case "batchSetLine":
		res, err := h.svc.BatchSetLine(ctx, req.Usernames, req.Line)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeBatch(w, res)

	case "batchSetExpire":
		writeBatch(w, h.svc.BatchSetExpire(ctx, req.Usernames, req.ExpireDays))

	case "batchSetQuota":
		// Two forms: explicit usernames with a personal allowance, or a
		// whole line with a total pool and distribution mode.
		if len(req.Usernames) > 0 {
			writeBatch(w, h.svc.BatchSetQuota(ctx, req.Usernames, req.PersonalQuota))
			return
		}
		res, err := h.svc.BatchSetLineQuota(ctx, req.Line, req.Quota, req.QuotaMode)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeBatch(w, res)

	case "batchResetExport":
		writeBatch(w, h.svc.BatchResetExport(ctx, req.Usernames))

	case "batchSetUserMode":
		writeBatch(w, h.svc.BatchSetUserMode(ctx, req.Usernames, req.UserMode))

	case "setLineUsersExpire":
		res, err := h.svc.SetLineUsersExpire(ctx, req.Line, req.ExpireDays)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeBatch(w, res)

	default:
		util.WriteError(w, http.StatusBadRequest, "bad_request", "unknown action")
	}
}

func (h *Handlers) writeDone(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteOK(w, nil)
}

func writeBatch(w http.ResponseWriter, res service.BatchResult) {
	util.WriteOK(w, map[string]any{"success": res.Success, "failed": res.Failed})
}

func parseLimit(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
