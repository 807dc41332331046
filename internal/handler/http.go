package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pismenka-api/internal/domain"
	"github.com/pismenka-api/internal/service"
	"github.com/pismenka-api/internal/websocket"
)

// Game actions accepted by /api/game
const (
	ActionGetCurrentWord = "get_current_word"
	ActionSubmitResult   = "submit_result"
	ActionGetLeaderboard = "get_leaderboard"
	ActionAdminSetWord   = "admin_set_word"
	ActionAdminGetStats  = "admin_get_stats"
	ActionGetArchive     = "get_archive"
	ActionHealthCheck    = "health_check"
)

// Handler provides HTTP handlers for the game API
type Handler struct {
	service *service.GameService
	hub     *websocket.Hub
	limiter *OriginLimiter
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler. hub and limiter are optional.
func NewHandler(service *service.GameService, hub *websocket.Hub, limiter *OriginLimiter, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		limiter: limiter,
		logger:  logger,
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Word    string `json:"word,omitempty"`
}

type currentWordResponse struct {
	Success bool `json:"success"`
	domain.CurrentWord
}

type leaderboardResponse struct {
	Success bool `json:"success"`
	domain.Leaderboard
}

type statsResponse struct {
	Success bool `json:"success"`
	domain.Stats
}

type archiveResponse struct {
	Success bool                  `json:"success"`
	Archive []domain.ArchiveEntry `json:"archive"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}

		r.Get("/game", h.Game)
		r.Post("/game", h.Game)

		r.Route("/v1", func(r chi.Router) {
			r.Get("/word", h.CurrentWord)
			r.Post("/results", h.SubmitResult)
			r.Get("/leaderboard", h.Leaderboard)
			r.Get("/archive", h.Archive)
			r.Post("/admin/word", h.AdminSetWord)
			r.Post("/admin/stats", h.AdminStats)
			r.Get("/ws/stats", h.WebSocketStats)
		})
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Success: false, Error: err.Error()})
}

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsRejection(err),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrUnknownAction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, status, domain.ErrInternalError)
		return
	}
	h.logger.Info("request rejected", "path", r.URL.Path, "status", status, "error", err)
	writeError(w, status, err)
}

// Game dispatches the single-endpoint API by its action parameter
func (h *Handler) Game(w http.ResponseWriter, r *http.Request) {
	req := queryRequest(r)
	if r.Method == http.MethodPost {
		var body gameRequest
		if err := decodeBody(w, r, &body); err != nil {
			h.fail(w, r, err)
			return
		}
		if body.Action == "" {
			body.Action = req.Action
		}
		req = body
	}

	switch req.Action {
	case ActionGetCurrentWord:
		h.writeCurrentWord(w, r)
	case ActionSubmitResult:
		h.submit(w, r, req)
	case ActionGetLeaderboard:
		h.writeLeaderboard(w, r, req.Date)
	case ActionAdminSetWord:
		h.setWord(w, r, req)
	case ActionAdminGetStats:
		h.writeAdminStats(w, r, req)
	case ActionGetArchive:
		h.writeArchive(w, r)
	case ActionHealthCheck:
		h.HealthCheck(w, r)
	default:
		h.logger.Info("unknown action", "action", req.Action)
		writeError(w, http.StatusBadRequest, domain.ErrUnknownAction)
	}
}

// CurrentWord returns today's word
func (h *Handler) CurrentWord(w http.ResponseWriter, r *http.Request) {
	h.writeCurrentWord(w, r)
}

func (h *Handler) writeCurrentWord(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentWordResponse{
		Success:     true,
		CurrentWord: h.service.CurrentWord(r.Context()),
	})
}

// SubmitResult records a finished game
func (h *Handler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	var req gameRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.submit(w, r, req)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, req gameRequest) {
	if err := h.service.SubmitResult(r.Context(), req.submission(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "result saved"})
}

// Leaderboard returns the ranking of ?date= or today
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	h.writeLeaderboard(w, r, r.URL.Query().Get("date"))
}

func (h *Handler) writeLeaderboard(w http.ResponseWriter, r *http.Request, date string) {
	if date != "" {
		if _, err := time.Parse(domain.DateLayout, date); err != nil {
			h.fail(w, r, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalidRequest))
			return
		}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{
		Success:     true,
		Leaderboard: h.service.Leaderboard(r.Context(), date),
	})
}

// AdminSetWord replaces today's word
func (h *Handler) AdminSetWord(w http.ResponseWriter, r *http.Request) {
	var req gameRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.setWord(w, r, req)
}

func (h *Handler) setWord(w http.ResponseWriter, r *http.Request, req gameRequest) {
	game, err := h.service.AdminSetWord(r.Context(), req.AdminPassword, req.Word)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "new word set: " + game.Word,
		Word:    game.Word,
	})
}

// AdminStats returns aggregate statistics
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	var req gameRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeAdminStats(w, r, req)
}

func (h *Handler) writeAdminStats(w http.ResponseWriter, r *http.Request, req gameRequest) {
	stats, err := h.service.AdminStats(r.Context(), req.AdminPassword)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Success: true, Stats: stats})
}

// Archive returns the archived days, newest first
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	h.writeArchive(w, r)
}

func (h *Handler) writeArchive(w http.ResponseWriter, r *http.Request) {
	archive := h.service.Archive(r.Context())
	if archive == nil {
		archive = []domain.ArchiveEntry{}
	}
	writeJSON(w, http.StatusOK, archiveResponse{Success: true, Archive: archive})
}

// HealthCheck reports service and storage status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Health(r.Context()))
}

// HandleWebSocket upgrades to the live leaderboard feed
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("live updates disabled"))
		return
	}
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// WebSocketStats returns the number of live connections
func (h *Handler) WebSocketStats(w http.ResponseWriter, r *http.Request) {
	connections := 0
	if h.hub != nil {
		connections = h.hub.Connections()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"total_connections": connections,
	})
}
