package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stocktrend/internal/domain"
	"stocktrend/internal/logging"
	"stocktrend/internal/repository"
	"stocktrend/internal/service"

	"github.com/go-chi/chi/v5"
)

const sessionCookieName = "session"

type Options struct {
	CookieSecure       bool
	MaxUploadBytes     int64
	AllowedOrigins     []string
	AuthRateLimitRPS   float64
	AuthRateLimitBurst int
}

type Handler struct {
	svc    *service.Service
	logger *slog.Logger
	opts   Options
}

func NewHandler(svc *service.Service, logger *slog.Logger, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	return &Handler{svc: svc, logger: logger, opts: opts}
}

// CurrentUser implements AuthProvider from the session cookie.
func (h *Handler) CurrentUser(r *http.Request) (*domain.User, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, service.ErrUnauthenticated
	}
	return h.svc.Authenticate(r.Context(), cookie.Value)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type userView struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

func viewOf(user *domain.User) *userView {
	if user == nil {
		return nil
	}
	return &userView{ID: user.ID, Email: user.Email, Username: user.Username}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, token, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, map[string]any{"user": viewOf(&user)})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, token, err := h.svc.Login(r.Context(), req)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{"user": viewOf(&user)})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := h.svc.Logout(r.Context(), cookie.Value); err != nil {
			h.internalError(w, r, err)
			return
		}
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.CurrentUser(r)
	if err != nil {
		if isUnauthenticated(err) {
			writeJSON(w, http.StatusOK, map[string]any{"user": nil})
			return
		}
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": viewOf(user)})
}

func (h *Handler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *service.ValidationError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid input", "fields": invalid.Fields})
	case errors.Is(err, service.ErrUserExists):
		writeError(w, http.StatusConflict, "User already exists")
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token service.SessionToken) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token.Token,
		Path:     "/",
		Expires:  token.ExpiresAt,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseOptionalInt(query.Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	products, err := h.svc.ListProducts(r.Context(), query.Get("q"), limit)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) ProductSeries(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := h.svc.ProductSeries(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type compareRequest struct {
	ProductIDs []int64 `json:"productIds"`
}

func (h *Handler) CompareSeries(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.CompareSeries(r.Context(), req.ProductIDs)
	if err != nil {
		if errors.Is(err, service.ErrNoProductIDs) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"series": items})
}

func (h *Handler) ExportSeries(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := h.svc.ExportSeries(r.Context(), &buf, ids); err != nil {
		if errors.Is(err, service.ErrNoProductIDs) {
			writeError(w, http.StatusBadRequest, "ids query parameter is required")
			return
		}
		h.internalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="series.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", h.opts.MaxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file")
		return
	}
	defer file.Close()

	uploadedBy := user.ID
	result, err := h.svc.ImportWorkbook(r.Context(), header.Filename, file, &uploadedBy)
	if err != nil {
		var rejected *service.UploadRejectedError
		if errors.As(err, &rejected) {
			body := map[string]any{"error": rejected.Message, "warnings": rejected.Warnings}
			if len(rejected.Errors) > 0 {
				body["errors"] = rejected.Errors
			}
			writeJSON(w, http.StatusBadRequest, body)
			return
		}
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed",
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", logging.RequestID(r.Context()),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func isUnauthenticated(err error) bool {
	return errors.Is(err, service.ErrUnauthenticated)
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func parseOptionalInt(raw string, defaultValue int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %s", raw)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("value cannot be negative")
	}
	return parsed, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

// parseIDList reads a comma-separated id list; blank entries are skipped.
func parseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			return nil, fmt.Errorf("invalid id in ids: %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// writeJSON commits the status only once the payload has encoded; an
// unencodable payload is answered with a 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("encode response", "error", err, "status", status)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
