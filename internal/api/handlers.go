package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"gwi.com/drive-chat/internal/auth"
	"gwi.com/drive-chat/internal/core"
	"gwi.com/drive-chat/internal/drive"
	"gwi.com/drive-chat/internal/imagefallback"
	"gwi.com/drive-chat/internal/store"
)

// ImageCacheControl lets browsers and proxies keep proxied images for a week.
const ImageCacheControl = "public, max-age=604800"

type contextKey string

const staffKey contextKey = "staff"

// Downloader streams Drive file bytes for the image proxy.
type Downloader interface {
	Download(ctx context.Context, fileID string) (*drive.Content, error)
}

type APIHandler struct {
	chatService   *core.ChatService
	ticketService *core.TicketService
	files         Downloader
	filesErr      error
	resolver      core.ImageResolver
	jwtSecret     string
}

// NewAPIHandler wires the HTTP handlers. files may be nil when Drive is not
// configured; filesErr is then reported by the image proxy.
func NewAPIHandler(cs *core.ChatService, ts *core.TicketService, files Downloader, filesErr error, resolver core.ImageResolver, jwtSecret string) *APIHandler {
	return &APIHandler{
		chatService:   cs,
		ticketService: ts,
		files:         files,
		filesErr:      filesErr,
		resolver:      resolver,
		jwtSecret:     jwtSecret,
	}
}

// StaffFromContext returns the staff member authenticated by JWTAuthMiddleware.
func StaffFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(staffKey).(string)
	return s, ok
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		staff, err := auth.ValidateJWT(h.jwtSecret, tokenString)
		if err != nil {
			slog.InfoContext(r.Context(), "rejected staff token", "error", err)
			respondError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), staffKey, staff)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req core.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.chatService.HandleTurn(r.Context(), req)
	switch {
	case errors.Is(err, core.ErrEmptyMessage), errors.Is(err, core.ErrMessageTooLong):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "chat turn failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *APIHandler) SessionMessagesHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	msgs, ok := h.chatService.Messages(sessionID)
	if !ok {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID, "messages": msgs})
}

func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !h.chatService.DeleteSession(chi.URLParam(r, "sessionID")) {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type CreateTicketRequest struct {
	Question  string `json:"question"`
	UserEmail string `json:"userEmail,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type CreateTicketResponse struct {
	Success  bool          `json:"success"`
	TicketID string        `json:"ticketId"`
	Ticket   *store.Ticket `json:"ticket"`
}

func (h *APIHandler) CreateTicketHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ticket, err := h.ticketService.CreateTicket(r.Context(), req.Question, req.UserEmail, req.SessionID)
	switch {
	case errors.Is(err, core.ErrEmptyQuestion):
		respondError(w, http.StatusBadRequest, "Question is required")
		return
	case errors.Is(err, core.ErrInvalidEmail):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "failed to create ticket", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create ticket")
		return
	}
	respondJSON(w, http.StatusOK, CreateTicketResponse{Success: true, TicketID: ticket.ID, Ticket: ticket})
}

func (h *APIHandler) ImageProxyHandler(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("fileId")
	if fileID == "" {
		respondError(w, http.StatusBadRequest, "fileId is required")
		return
	}
	if !imagefallback.ValidFileID(fileID) {
		respondError(w, http.StatusBadRequest, "fileId is invalid")
		return
	}
	if h.files == nil {
		slog.ErrorContext(r.Context(), "image proxy unavailable", "error", h.filesErr)
		respondError(w, http.StatusInternalServerError, "Drive integration is not configured")
		return
	}

	content, err := h.files.Download(r.Context(), fileID)
	switch {
	case errors.Is(err, drive.ErrNotFound):
		respondError(w, http.StatusNotFound, "Image not found")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "failed to fetch image", "file_id", fileID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch image")
		return
	}
	defer content.Body.Close()

	if !strings.HasPrefix(strings.ToLower(content.ContentType), "image/") {
		slog.InfoContext(r.Context(), "refusing to proxy non-image file", "file_id", fileID, "content_type", content.ContentType)
		respondError(w, http.StatusNotFound, "Image not found")
		return
	}
	w.Header().Set("Content-Type", content.ContentType)
	w.Header().Set("Cache-Control", ImageCacheControl)
	if content.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(content.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, content.Body); err != nil {
		slog.WarnContext(r.Context(), "image stream interrupted", "file_id", fileID, "error", err)
	}
}

type ImageURLRequest struct {
	FileID string `json:"fileId"`
}

func (h *APIHandler) ImageURLHandler(w http.ResponseWriter, r *http.Request) {
	var req ImageURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.FileID == "" {
		respondError(w, http.StatusBadRequest, "fileId is required")
		return
	}

	res, err := h.resolver.Resolve(r.Context(), req.FileID)
	switch {
	case errors.Is(err, imagefallback.ErrInvalidFileID):
		respondError(w, http.StatusBadRequest, "fileId is invalid")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "failed to resolve image url", "file_id", req.FileID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to resolve image URL")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *APIHandler) ListTicketsHandler(w http.ResponseWriter, r *http.Request) {
	status := store.TicketStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	tickets, err := h.ticketService.ListTickets(r.Context(), status, limit)
	switch {
	case errors.Is(err, core.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "failed to list tickets", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list tickets")
		return
	}
	respondJSON(w, http.StatusOK, tickets)
}

func (h *APIHandler) GetTicketHandler(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.ticketService.GetTicket(r.Context(), chi.URLParam(r, "ticketID"))
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		respondError(w, http.StatusNotFound, "Ticket not found")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "failed to get ticket", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to get ticket")
		return
	}
	respondJSON(w, http.StatusOK, ticket)
}

type UpdateTicketRequest struct {
	Status store.TicketStatus `json:"status"`
}

func (h *APIHandler) UpdateTicketHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ticketID := chi.URLParam(r, "ticketID")
	ticket, err := h.ticketService.UpdateTicketStatus(r.Context(), ticketID, req.Status)
	switch {
	case errors.Is(err, core.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrTicketNotFound):
		respondError(w, http.StatusNotFound, "Ticket not found")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "failed to update ticket", "ticket_id", ticketID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to update ticket")
		return
	}
	staff, _ := StaffFromContext(r.Context())
	slog.InfoContext(r.Context(), "ticket updated by staff", "ticket_id", ticketID, "staff", staff)
	respondJSON(w, http.StatusOK, ticket)
}
