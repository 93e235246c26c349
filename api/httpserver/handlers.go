package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/whitead/msgbid/auction"
	"github.com/whitead/msgbid/feed"
	"github.com/whitead/msgbid/registry"
)

// BrokerHandler wires the auction engine, client registry and live feed into
// the broker's HTTP surface.
type BrokerHandler struct {
	engine     *auction.Engine
	registry   *registry.Registry
	feed       *feed.Hub
	adminToken string
	log        *slog.Logger
}

// NewBrokerHandler creates the broker's route handler. hub may be nil to
// disable the live feed. adminToken guards the admin endpoints; when empty
// they refuse every request.
func NewBrokerHandler(engine *auction.Engine, reg *registry.Registry, hub *feed.Hub,
	adminToken string, log *slog.Logger) *BrokerHandler {

	return &BrokerHandler{
		engine:     engine,
		registry:   reg,
		feed:       hub,
		adminToken: adminToken,
		log:        log,
	}
}

// RegisterRoutes registers the broker's routes.
func (h *BrokerHandler) RegisterRoutes(r chi.Router) {
	r.Put("/register", h.handleRegister)
	r.Post("/messages", h.handleSubmit)
	r.Get("/messages", h.handleReplay)
	r.Get("/balance", h.handleBalance)

	r.Get("/clients", h.requireAdmin(h.handleListClients))
	r.Get("/delete", h.requireAdmin(h.handleReset))

	if h.feed != nil {
		r.Get("/ws", h.feed.ServeWS)
	}
}

type registerRequest struct {
	Name string `json:"name"`
}

func (h *BrokerHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client, err := h.registry.Register(r.Context(), req.Name)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("X-Client-Token", client.Token)
	writeJSON(w, http.StatusOK, client)
}

type submitRequest struct {
	Message *string `json:"message"`
	Bid     *int64  `json:"bid"`
}

// handleSubmit admits a bid and holds the response until the settlement
// that includes it resolves.
func (h *BrokerHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	token := r.Header.Get("X-Client-Token")
	if token == "" {
		writeError(w, http.StatusBadRequest, auction.ErrMissingToken.Error())
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == nil {
		writeError(w, http.StatusBadRequest, auction.ErrMissingMessage.Error())
		return
	}
	if req.Bid == nil {
		writeError(w, http.StatusBadRequest, auction.ErrInvalidBid.Error())
		return
	}

	result, err := h.engine.Submit(r.Context(), token, *req.Message, *req.Bid)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *BrokerHandler) handleReplay(w http.ResponseWriter, r *http.Request) {
	end := r.URL.Query().Get("end")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	page, err := h.engine.Replay(r.Context(), end, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *BrokerHandler) handleBalance(w http.ResponseWriter, r *http.Request) {
	client, err := h.registry.Balance(r.Context(), r.Header.Get("X-Client-Token"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (h *BrokerHandler) handleListClients(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	clients, err := h.registry.ListClients(r.Context(), page, pageSize)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

type resetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *BrokerHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reset(r.Context()); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resetResponse{Success: true, Message: "broker reset"})
}

// requireAdmin guards an endpoint with the admin bearer token.
func (h *BrokerHandler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || h.adminToken == "" || bearer != h.adminToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// writeServiceError maps service-layer sentinel errors onto HTTP statuses.
func (h *BrokerHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auction.ErrMissingToken),
		errors.Is(err, auction.ErrInvalidToken),
		errors.Is(err, auction.ErrMissingName),
		errors.Is(err, auction.ErrMissingMessage),
		errors.Is(err, auction.ErrInvalidBid),
		errors.Is(err, auction.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
