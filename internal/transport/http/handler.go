package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"sproutxp/internal/auth"
	"sproutxp/internal/model"
	"sproutxp/internal/service"
)

const (
	headerCSRF          = "X-Csrf-Token"
	headerAuthorization = "Authorization"
)

type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

type Handler struct {
	svc          service.XPService
	verifier     TokenVerifier
	maxBodyBytes int64
}

func NewHandler(svc service.XPService, verifier TokenVerifier, maxBodyBytes int64) *Handler {
	return &Handler{svc: svc, verifier: verifier, maxBodyBytes: maxBodyBytes}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /grant-xp", h.GrantXP)
	mux.HandleFunc("POST /csrf-token", h.IssueCSRFToken)
	mux.HandleFunc("GET /xp", h.GetXP)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// GrantXP checks run in a fixed order; the first failing check decides the response.
func (h *Handler) GrantXP(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxBodyBytes {
		h.respondError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage())
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	csrfToken := r.Header.Get(headerCSRF)
	if csrfToken == "" {
		h.respondError(w, http.StatusForbidden, "Missing CSRF token")
		return
	}

	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	stored, err := h.svc.CSRFToken(r.Context(), userID)
	if err != nil {
		slog.Error("http: failed to load session", "user_id", userID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to verify CSRF token")
		return
	}
	if !auth.CSRFMatches(csrfToken, stored) {
		slog.Warn("http: csrf token mismatch", "user_id", userID, "ip", clientIP(r))
		h.respondError(w, http.StatusForbidden, "Invalid CSRF token - potential attack detected")
		return
	}

	var req model.GrantRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage())
			return
		}
		h.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	res, err := h.svc.Grant(r.Context(), service.GrantCommand{
		UserID:   userID,
		SourceIP: clientIP(r),
		Request:  req,
	})
	if err != nil {
		h.respondGrantError(w, userID, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   res.Success,
		"newXp":     res.NewXP,
		"newLevel":  res.NewLevel,
		"leveledUp": res.LeveledUp,
	})
}

func (h *Handler) respondGrantError(w http.ResponseWriter, userID uuid.UUID, err error) {
	var ledgerErr *service.LedgerError
	switch {
	case errors.Is(err, service.ErrInvalidPlantID):
		h.respondError(w, http.StatusBadRequest, "Invalid plantId - must be a valid UUID")
	case errors.Is(err, service.ErrPlantNotFound):
		h.respondError(w, http.StatusNotFound, "Plant not found or access denied")
	case errors.Is(err, service.ErrInvalidXPAmount):
		h.respondError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid xpAmount - must be a positive integer no greater than %d", service.MaxXPPerGrant))
	case errors.Is(err, service.ErrInvalidAction):
		h.respondError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid action - must be a non-empty string of at most %d characters", service.MaxActionLength))
	case errors.Is(err, service.ErrRateLimited):
		h.respondJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":   "Rate limit exceeded",
			"details": fmt.Sprintf("Maximum %d requests per minute per action type", h.svc.RateLimit()),
		})
	case errors.As(err, &ledgerErr):
		slog.Error("http: ledger rejected grant", "user_id", userID, "error", ledgerErr.Message)
		h.respondError(w, http.StatusInternalServerError, ledgerErr.Message)
	default:
		slog.Error("http: grant failed", "user_id", userID, "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// IssueCSRFToken stores a fresh CSRF token in the caller's session and returns it.
func (h *Handler) IssueCSRFToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	token, err := h.svc.IssueCSRFToken(r.Context(), userID)
	if err != nil {
		slog.Error("http: failed to issue csrf token", "user_id", userID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to issue CSRF token")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func (h *Handler) GetXP(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	acc, err := h.svc.Account(r.Context(), userID)
	if err != nil {
		slog.Error("http: failed to load xp account", "user_id", userID, "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	progress := model.LevelProgress(acc.TotalXP)
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"totalXp":       acc.TotalXP,
		"level":         acc.TotalLevel,
		"xpIntoLevel":   progress.XPIntoLevel,
		"xpToNextLevel": progress.XPToNextLevel,
	})
}

// authenticate resolves the bearer token to a user id, writing a 401 when it cannot.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	token, err := auth.BearerToken(r.Header.Get(headerAuthorization))
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, "Missing authorization")
		return uuid.Nil, false
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		slog.Debug("http: token rejected", "error", err)
		h.respondError(w, http.StatusUnauthorized, "Invalid token")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handler) tooLargeMessage() string {
	return fmt.Sprintf("Payload too large (max %dMB)", h.maxBodyBytes>>20)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// clientIP prefers the first X-Forwarded-For hop set by the edge proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
