package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"OminisNode/internal/logger"
	"OminisNode/internal/models"
	"OminisNode/internal/services"

	"cosmossdk.io/math"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Orders *services.OrderService
	Log    *logger.Logger
}

type orderResponse struct {
	ID              uint64  `json:"id"`
	Issuer          string  `json:"issuer"`
	ProblemHash     string  `json:"problem_hash"`
	ProblemType     uint8   `json:"problem_type"`
	ProblemTypeName string  `json:"problem_type_name"`
	TimeTier        uint8   `json:"time_tier"`
	Status          uint8   `json:"status"`
	StatusName      string  `json:"status_name"`
	Reward          string  `json:"reward"`
	CreatedAt       string  `json:"created_at"`
	Deadline        string  `json:"deadline"`
	Solver          *string `json:"solver"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int64           `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

type solutionResponse struct {
	OrderID    uint64  `json:"order_id"`
	Solver     string  `json:"solver"`
	CommitHash string  `json:"commit_hash"`
	Solution   *string `json:"solution"`
	CommitTime *string `json:"commit_time"`
	RevealTime *string `json:"reveal_time"`
	IsRevealed bool    `json:"is_revealed"`
}

type challengeResponse struct {
	OrderID       uint64 `json:"order_id"`
	Challenger    string `json:"challenger"`
	Stake         string `json:"stake"`
	Reason        string `json:"reason"`
	ChallengeTime string `json:"challenge_time"`
	Resolved      bool   `json:"resolved"`
	ChallengerWon bool   `json:"challenger_won"`
}

type statsResponse struct {
	TotalOrders     int64   `json:"total_orders"`
	OpenOrders      int64   `json:"open_orders"`
	CompletedOrders int64   `json:"completed_orders"`
	TotalChallenges int64   `json:"total_challenges"`
	SuccessRate     float64 `json:"success_rate"`
}

type syncStatusResponse struct {
	Synced        bool   `json:"synced"`
	LastBlock     uint64 `json:"last_block"`
	Head          uint64 `json:"head,omitempty"`
	Lag           uint64 `json:"lag"`
	OrdersIndexed int64  `json:"orders_indexed"`
}

func NewHandler(orders *services.OrderService, log *logger.Logger) *Handler {
	return &Handler{Orders: orders, Log: log}
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q, ok := h.listQuery(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := models.ParseOrderStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		q.Status = &st
	}
	q.Issuer = r.URL.Query().Get("issuer")
	q.Solver = r.URL.Query().Get("solver")
	h.writePage(w, r, q)
}

func (h *Handler) ListOpenOrders(w http.ResponseWriter, r *http.Request) {
	q, ok := h.listQuery(w, r)
	if !ok {
		return
	}
	open := models.StatusOpen
	q.Status = &open
	h.writePage(w, r, q)
}

func (h *Handler) ListByIssuer(w http.ResponseWriter, r *http.Request) {
	q, ok := h.listQuery(w, r)
	if !ok {
		return
	}
	q.Issuer = chi.URLParam(r, "address")
	h.writePage(w, r, q)
}

func (h *Handler) ListBySolver(w http.ResponseWriter, r *http.Request) {
	q, ok := h.listQuery(w, r)
	if !ok {
		return
	}
	q.Solver = chi.URLParam(r, "address")
	h.writePage(w, r, q)
}

func (h *Handler) listQuery(w http.ResponseWriter, r *http.Request) (services.ListQuery, bool) {
	var q services.ListQuery
	var err error
	if q.Page, err = intParam(r, "page"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return q, false
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return q, false
	}
	return q, true
}

func (h *Handler) writePage(w http.ResponseWriter, r *http.Request, q services.ListQuery) {
	page, err := h.Orders.ListOrders(r.Context(), q)
	if err != nil {
		h.fail(w, err, "list orders failed")
		return
	}
	resp := orderListResponse{
		Orders: make([]orderResponse, 0, len(page.Orders)),
		Total:  page.Total,
		Page:   page.Page,
		Limit:  page.Limit,
	}
	for _, o := range page.Orders {
		resp.Orders = append(resp.Orders, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := h.Orders.GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, err, "Order not found")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) GetSolution(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	s, err := h.Orders.GetSolution(r.Context(), id)
	if err != nil {
		h.fail(w, err, "Solution not found")
		return
	}
	resp := solutionResponse{
		OrderID:    s.OrderID,
		Solver:     s.Solver,
		CommitHash: s.CommitHash,
		Solution:   s.Text,
		IsRevealed: s.IsRevealed,
	}
	if !s.CommitTime.IsZero() {
		t := formatTime(s.CommitTime)
		resp.CommitTime = &t
	}
	if s.RevealTime != nil {
		t := formatTime(*s.RevealTime)
		resp.RevealTime = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	c, err := h.Orders.GetChallenge(r.Context(), id)
	if err != nil {
		h.fail(w, err, "Challenge not found")
		return
	}
	writeJSON(w, http.StatusOK, challengeResponse{
		OrderID:       c.OrderID,
		Challenger:    c.Challenger,
		Stake:         amount(c.Stake),
		Reason:        c.Reason,
		ChallengeTime: formatTime(c.ChallengeTime),
		Resolved:      c.Resolved,
		ChallengerWon: c.ChallengerWon,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Orders.Stats(r.Context())
	if err != nil {
		h.fail(w, err, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TotalOrders:     st.TotalOrders,
		OpenOrders:      st.OpenOrders,
		CompletedOrders: st.CompletedOrders,
		TotalChallenges: st.TotalChallenges,
		SuccessRate:     st.SuccessRate,
	})
}

func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Orders.SyncStatus(r.Context())
	if err != nil {
		h.fail(w, err, "sync status failed")
		return
	}
	writeJSON(w, http.StatusOK, syncStatusResponse{
		Synced:        st.Synced,
		LastBlock:     st.LastBlock,
		Head:          st.Head,
		Lag:           st.Lag,
		OrdersIndexed: st.OrdersIndexed,
	})
}

// fail maps not-found to 404 with msg; anything else is logged and hidden.
func (h *Handler) fail(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, msg)
	case errors.Is(err, services.ErrInvalidPage):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func toOrderResponse(o *models.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		Issuer:          o.Issuer,
		ProblemHash:     o.ProblemHash,
		ProblemType:     uint8(o.ProblemType),
		ProblemTypeName: o.ProblemType.String(),
		TimeTier:        uint8(o.TimeTier),
		Status:          uint8(o.Status),
		StatusName:      o.Status.String(),
		Reward:          amount(o.Reward),
		CreatedAt:       formatTime(o.CreatedAt),
		Deadline:        formatTime(o.Deadline),
		Solver:          o.Solver,
	}
}

func amount(v math.Int) string {
	if v.IsNil() {
		return "0"
	}
	return v.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func orderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
