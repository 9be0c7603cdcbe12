package util

import (
	"encoding/json"
	"net/http"
)

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteOK merges extra payload fields into the envelope at the top level,
// matching what clients already parse.
func WriteOK(w http.ResponseWriter, extra map[string]any) {
	out := map[string]any{"ok": true}
	for k, v := range extra {
		out[k] = v
	}
	WriteJSON(w, http.StatusOK, out)
}

func WriteError(w http.ResponseWriter, status int, code, msg string) {
	out := map[string]any{"ok": false, "msg": msg}
	if code != "" {
		out["code"] = code
	}
	WriteJSON(w, status, out)
}

// WriteErrorExtra is WriteError with additional top-level fields, used when
// a denial still carries state the client needs (mode, remaining balance).
func WriteErrorExtra(w http.ResponseWriter, status int, code, msg string, extra map[string]any) {
	out := map[string]any{"ok": false, "msg": msg}
	if code != "" {
		out["code"] = code
	}
	for k, v := range extra {
		out[k] = v
	}
	WriteJSON(w, status, out)
}
