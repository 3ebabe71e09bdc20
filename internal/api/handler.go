package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/fractal-balances/internal/explorer"
	"github.com/eugenenazirov/fractal-balances/internal/history"
	"github.com/eugenenazirov/fractal-balances/internal/storage"
	"github.com/eugenenazirov/fractal-balances/internal/tracker"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const maxRequestBodyBytes = 1 << 16

// BalanceTracker is the subset of tracker behaviour the HTTP layer needs.
type BalanceTracker interface {
	Refresh(ctx context.Context) (tracker.Snapshot, error)
	Latest() (tracker.Snapshot, bool)
	NextRefreshIn() time.Duration
	Interval() time.Duration
	Forget(ctx context.Context, address string) error
}

// Handler wires the address book, tracker and history into HTTP handlers.
type Handler struct {
	storage storage.Storage
	tracker BalanceTracker
	history history.Store
	logger  *zap.Logger

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithHandlerLogger attaches a logger for mutation events.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(store storage.Storage, bt BalanceTracker, hist history.Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		storage: store,
		tracker: bt,
		history: hist,
		logger:  zap.NewNop(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	_ = r
	addresses, err := h.storage.ListAddresses()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addressesResponse{Addresses: addresses})
}

func (h *Handler) handleAddAddress(w http.ResponseWriter, r *http.Request) {
	var req addAddressRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	if err := h.storage.AddAddress(req.Address); err != nil {
		switch {
		case errors.Is(err, storage.ErrEmptyAddress):
			writeError(w, http.StatusBadRequest, "Invalid address", err.Error(), "Please enter a valid Bitcoin address")
		case errors.Is(err, storage.ErrInvalidAddress):
			writeError(w, http.StatusBadRequest, "Invalid address", err.Error())
		case errors.Is(err, storage.ErrDuplicateAddress):
			writeError(w, http.StatusConflict, "Duplicate address", err.Error(), "This account is already in the list")
		default:
			writeInternalError(w, err)
		}
		return
	}

	addresses, err := h.storage.ListAddresses()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	h.logger.Info("address added",
		zap.String("address", strings.TrimSpace(req.Address)),
		zap.String("request_id", requestIDFromContext(r.Context())),
	)

	writeJSON(w, http.StatusCreated, addressesResponse{
		Addresses: addresses,
		Message:   "Account added successfully",
	})
}

func (h *Handler) handleRemoveAddress(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	if err := h.storage.RemoveAddress(address); err != nil {
		if errors.Is(err, storage.ErrAddressNotFound) {
			writeError(w, http.StatusNotFound, "Unknown address", err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}

	if err := h.tracker.Forget(r.Context(), address); err != nil {
		h.logger.Warn("forget address failed", zap.String("address", address), zap.Error(err))
	}
	h.logger.Info("address removed", zap.String("address", address))

	addresses, err := h.storage.ListAddresses()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addressesResponse{
		Addresses: addresses,
		Message:   "Account deleted successfully",
	})
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	_ = r
	snap, ok := h.tracker.Latest()
	writeJSON(w, http.StatusOK, h.buildBalancesResponse(snap, ok))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.tracker.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "Refresh failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.buildBalancesResponse(snap, true))
}

func (h *Handler) handleAllHistory(w http.ResponseWriter, r *http.Request) {
	addresses, err := h.storage.ListAddresses()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	all, err := h.history.All(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := allHistoryResponse{Series: make([]historyResponse, 0, len(addresses))}
	for _, address := range addresses {
		resp.Series = append(resp.Series, newHistoryResponse(address, all[address]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAddressHistory(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	addresses, err := h.storage.ListAddresses()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if !slices.Contains(addresses, address) {
		writeError(w, http.StatusNotFound, "Unknown address", storage.ErrAddressNotFound.Error())
		return
	}

	series, err := h.history.Series(r.Context(), address)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newHistoryResponse(address, series))
}

func (h *Handler) buildBalancesResponse(snap tracker.Snapshot, ok bool) balancesResponse {
	resp := balancesResponse{
		Balances:               make([]balanceEntry, 0, len(snap.Balances)),
		Failed:                 []string{},
		Total:                  snap.TotalBTC(),
		TotalFormatted:         explorer.FormatBTC(snap.TotalSatoshis),
		NextRefreshSeconds:     int(math.Ceil(h.tracker.NextRefreshIn().Seconds())),
		RefreshIntervalSeconds: int(h.tracker.Interval().Seconds()),
	}
	if !ok {
		return resp
	}

	takenAt := snap.TakenAt
	resp.TakenAt = &takenAt
	for _, b := range snap.Balances {
		resp.Balances = append(resp.Balances, balanceEntry{
			Address:          b.Address,
			Satoshis:         b.Satoshis,
			Balance:          b.BTC(),
			BalanceFormatted: explorer.FormatBTC(b.Satoshis),
		})
	}
	resp.Failed = append(resp.Failed, snap.Failed...)
	return resp
}

func newHistoryResponse(address string, samples []history.Sample) historyResponse {
	resp := historyResponse{
		Address: address,
		Samples: make([]sampleEntry, 0, len(samples)),
	}
	for _, s := range samples {
		resp.Samples = append(resp.Samples, sampleEntry{
			At:       s.At,
			Satoshis: s.Satoshis,
			Balance:  float64(s.Satoshis) / explorer.SatoshisPerBTC,
		})
	}
	return resp
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type addAddressRequest struct {
	Address string `json:"address"`
}

type addressesResponse struct {
	Addresses []string `json:"addresses"`
	Message   string   `json:"message,omitempty"`
}

type balanceEntry struct {
	Address          string  `json:"address"`
	Satoshis         int64   `json:"satoshis"`
	Balance          float64 `json:"balance"`
	BalanceFormatted string  `json:"balanceFormatted"`
}

type balancesResponse struct {
	TakenAt                *time.Time     `json:"takenAt,omitempty"`
	Balances               []balanceEntry `json:"balances"`
	Failed                 []string       `json:"failed"`
	Total                  float64        `json:"total"`
	TotalFormatted         string         `json:"totalFormatted"`
	NextRefreshSeconds     int            `json:"nextRefreshSeconds"`
	RefreshIntervalSeconds int            `json:"refreshIntervalSeconds"`
}

type sampleEntry struct {
	At       time.Time `json:"at"`
	Satoshis int64     `json:"satoshis"`
	Balance  float64   `json:"balance"`
}

type historyResponse struct {
	Address string        `json:"address"`
	Samples []sampleEntry `json:"samples"`
}

type allHistoryResponse struct {
	Series []historyResponse `json:"series"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
