package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/cdp-mini/internal/profile"
	"github.com/shehryarbajwa/cdp-mini/internal/session"
	"github.com/shehryarbajwa/cdp-mini/pkg/models"
)

// ProfileHandler holds dependencies for profile HTTP handlers
type ProfileHandler struct {
	store *profile.Store
}

// NewProfileHandler creates a new profile HTTP handler
func NewProfileHandler(store *profile.Store) *ProfileHandler {
	return &ProfileHandler{store: store}
}

func writeProfileError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, profile.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, models.ErrorResponse{Error: err.Error(), Kind: session.KindError})
}

// ListProfiles handles GET /v1/profiles
func (h *ProfileHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: err.Error(), Kind: session.KindError})
		return
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

// GetProfile handles GET /v1/profiles/{name}
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Get(mux.Vars(r)["name"])
	if err != nil {
		writeProfileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProfile handles DELETE /v1/profiles/{name}
func (h *ProfileHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(mux.Vars(r)["name"]); err != nil {
		writeProfileError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
