// Package api wires the HTTP surface. Handlers decode, call the service,
// and encode; status-code and error-code mapping is centralized in
// writeServiceError.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"quotaserver/internal/config"
	"quotaserver/internal/ledger"
	"quotaserver/internal/middleware"
	"quotaserver/internal/rate"
	"quotaserver/internal/service"
	"quotaserver/internal/store"
	"quotaserver/internal/util"
)

type Handlers struct {
	cfg     config.Config
	svc     *service.Service
	limiter *rate.Limiter
}

func NewRouter(cfg config.Config, svc *service.Service) http.Handler {
	h := &Handlers{cfg: cfg, svc: svc, limiter: rate.NewLimiter()}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger)
	// The extension runs from arbitrary origins; the API is deliberately
	// open and authenticates per call instead.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Admin-Key"},
	}))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := h.svc.Ping(r.Context()); err != nil {
			util.WriteError(w, http.StatusServiceUnavailable, "not_ready", "storage unreachable")
			return
		}
		util.WriteOK(w, nil)
	})

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(h.limiter, "auth", cfg.RateLimitPerMinute, time.Minute)).
			Post("/auth", h.handleAuth)
		r.Post("/export", h.handleExport)
		r.With(middleware.AdminKey(cfg.AdminKey)).Get("/admin", h.handleAdminGet)
		r.With(middleware.AdminKey(cfg.AdminKey)).Post("/admin", h.handleAdminPost)
		r.Get("/version-check", h.handleVersionCheck)
		r.Get("/status", h.handleStatus)
	})

	return r
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		util.WriteError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

// writeServiceError maps service errors onto the envelope. Anything not
// recognized is an internal failure: logged with the request id, surfaced
// as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve service.ValidationError
	if errors.As(err, &ve) {
		util.WriteError(w, http.StatusBadRequest, "", ve.Error())
		return
	}
	var me *service.MaintenanceError
	if errors.As(err, &me) {
		util.WriteError(w, http.StatusServiceUnavailable, "MAINTENANCE", me.Error())
		return
	}
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		util.WriteError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error())
	case errors.Is(err, service.ErrPendingApproval):
		util.WriteError(w, http.StatusForbidden, "PENDING", err.Error())
	case errors.Is(err, service.ErrDisabled):
		util.WriteError(w, http.StatusForbidden, "DISABLED", err.Error())
	case errors.Is(err, service.ErrInvalidToken):
		util.WriteError(w, http.StatusUnauthorized, "INVALID_TOKEN", err.Error())
	case errors.Is(err, service.ErrKicked):
		util.WriteError(w, http.StatusUnauthorized, "KICKED", err.Error())
	case errors.Is(err, store.ErrNotFound):
		util.WriteError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, store.ErrConflict):
		util.WriteError(w, http.StatusConflict, "conflict", "already exists")
	default:
		log.Printf("internal error request_id=%s err=%v", middleware.RequestID(r.Context()), err)
		util.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// ---- auth ----

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

func (h *Handlers) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch r.URL.Query().Get("action") {
	case "register":
		if err := h.svc.Register(r.Context(), req.Username, req.Password); err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{"msg": "registration submitted, awaiting approval"})

	case "login":
		res, err := h.svc.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, sessionPayload(res))

	case "verify":
		res, err := h.svc.Verify(r.Context(), req.Username, req.Token)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, sessionPayload(res))

	case "check":
		res, err := h.svc.Check(r.Context(), req.Username)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		util.WriteOK(w, map[string]any{
			"exists":   res.Exists,
			"status":   res.Status,
			"enabled":  res.Enabled,
			"userMode": res.Mode,
			"line":     res.Line,
			"expireAt": res.ExpireAt,
		})

	default:
		util.WriteError(w, http.StatusBadRequest, "bad_request", "unknown action")
	}
}

func sessionPayload(res service.SessionResult) map[string]any {
	out := map[string]any{
		"user":        res.User,
		"entitlement": res.Decision,
	}
	if res.Token != "" {
		out["token"] = res.Token
	}
	if res.Announcement != "" {
		out["announcement"] = res.Announcement
	}
	return out
}

// ---- export ----

type exportRequest struct {
	Username string `json:"username"`
	Token    string `json:"token"`
	Count    int64  `json:"count"`
}

func (h *Handlers) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var source string
	switch r.URL.Query().Get("action") {
	case "report":
		source = "export"
	case "deduct":
		source = "extract"
	default:
		util.WriteError(w, http.StatusBadRequest, "bad_request", "unknown action")
		return
	}

	res, err := h.svc.Export(r.Context(), req.Username, req.Token, req.Count, source)
	switch {
	case errors.Is(err, ledger.ErrGuestMode):
		util.WriteErrorExtra(w, http.StatusForbidden, "GUEST_MODE", "guest mode: action denied", map[string]any{
			"userMode":         "guest",
			"reason":           res.Reason,
			"remainingCredits": res.Remaining,
		})
		return
	case errors.Is(err, ledger.ErrCreditsExceeded):
		util.WriteErrorExtra(w, http.StatusForbidden, "CREDITS_EXCEEDED", "insufficient credits", map[string]any{
			"remainingCredits": res.Remaining,
		})
		return
	case err != nil:
		writeServiceError(w, r, err)
		return
	}
	util.WriteOK(w, map[string]any{
		"deducted":         res.Deducted,
		"exportCount":      res.NewUsed,
		"remainingCredits": res.Remaining,
		"becameGuest":      res.BecameGuest,
		"userMode":         res.Mode,
		"reason":           res.Reason,
	})
}

// ---- public status ----

func (h *Handlers) handleVersionCheck(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.VersionCheck(r.Context(), r.URL.Query().Get("v"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := map[string]any{"locked": res.Locked}
	if res.MinVersion != "" {
		out["minVersion"] = res.MinVersion
	}
	if res.Msg != "" {
		out["msg"] = res.Msg
	}
	util.WriteOK(w, out)
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Status(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := map[string]any{"maintenance": res.Maintenance}
	if res.MaintenanceMessage != "" {
		out["maintenanceMessage"] = res.MaintenanceMessage
	}
	if res.Announcement != "" {
		out["announcement"] = res.Announcement
	}
	util.WriteOK(w, out)
}
