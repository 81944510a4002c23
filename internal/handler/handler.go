// Package handler содержит HTTP-обработчики API сервиса fanpoints.
//
// API предназначен для доверенного шлюза чат-платформы: идентификаторы
// пользователей и уровни подписки приходят уже разрешёнными. Ответы несут
// только данные и машинные коды ошибок; текст для пользователя формирует
// слой представления.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ekorolkova/fanpoints/internal/catalog"
	"github.com/ekorolkova/fanpoints/internal/fulfillment"
	"github.com/ekorolkova/fanpoints/internal/middleware"
	"github.com/ekorolkova/fanpoints/internal/model"
	"github.com/ekorolkova/fanpoints/internal/repository"
	"github.com/ekorolkova/fanpoints/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	React(ctx context.Context, userID int64, contentID, emoji string, contentTier, userTier model.Tier) (service.ReactResult, error)
	Claim(ctx context.Context, userID int64) (service.ClaimResult, error)
	Purchase(ctx context.Context, userID int64, productID string, userTier model.Tier) (service.PurchaseResult, error)
	Adjust(ctx context.Context, userID, delta int64, reason string) (model.Transaction, error)
	Evaluate(ctx context.Context, userID int64) ([]model.Reward, error)
	GetWallet(ctx context.Context, userID int64) (*model.Wallet, error)
	GetTransactions(ctx context.Context, userID int64) ([]model.Transaction, error)
	GetStreak(ctx context.Context, userID int64) (*model.StreakState, error)
	GetPurchases(ctx context.Context, userID int64) ([]model.Purchase, error)
}

// Handler реализует HTTP-обработчики API сервиса fanpoints.
type Handler struct {
	service Service
	logger  *zap.Logger
	auth    *middleware.GatewayAuth
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.GatewayAuth) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
		auth:    auth,
	}
}

type errorResponse struct {
	Code       string `json:"code"`
	PurchaseID string `json:"purchase_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку ядра в HTTP-статус и машинный код.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidUser):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_user"})
	case errors.Is(err, service.ErrInvalidReaction):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_reaction"})
	case errors.Is(err, service.ErrInvalidReason):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_reason"})
	case errors.Is(err, service.ErrTierForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Code: "tier_forbidden"})
	case errors.Is(err, catalog.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "product_unavailable"})
	case errors.Is(err, repository.ErrInsufficientFunds):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Code: "insufficient_funds"})
	case errors.Is(err, repository.ErrDuplicateReaction):
		writeJSON(w, http.StatusConflict, errorResponse{Code: "duplicate_reaction"})
	case errors.Is(err, repository.ErrAlreadyClaimedToday):
		writeJSON(w, http.StatusConflict, errorResponse{Code: "already_claimed_today"})
	case errors.Is(err, repository.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Code: "rate_limited"})
	case errors.Is(err, repository.ErrDailyCapReached):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Code: "daily_cap_reached"})
	case errors.Is(err, repository.ErrStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Code: "store_unavailable"})
	default:
		h.logger.Error("internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "internal"})
	}
}

type reactRequest struct {
	UserID      int64  `json:"user_id"`
	ContentID   string `json:"content_id"`
	Emoji       string `json:"emoji"`
	ContentTier int    `json:"content_tier"`
	UserTier    int    `json:"user_tier"`
}

type reactResponse struct {
	Credited int64 `json:"credited"`
}

// React принимает реакцию пользователя на контент.
func (h *Handler) React(w http.ResponseWriter, r *http.Request) {
	var req reactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "malformed_request"})
		return
	}

	res, err := h.service.React(r.Context(), req.UserID, req.ContentID, req.Emoji,
		model.Tier(req.ContentTier), model.Tier(req.UserTier))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reactResponse{Credited: res.Credited})
}

type claimRequest struct {
	UserID int64 `json:"user_id"`
}

type claimResponse struct {
	Awarded      int64 `json:"awarded"`
	StreakLength int   `json:"streak_length"`
}

// Claim выполняет ежедневную отметку пользователя.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "malformed_request"})
		return
	}

	res, err := h.service.Claim(r.Context(), req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{Awarded: res.Awarded, StreakLength: res.StreakLength})
}

type purchaseRequest struct {
	UserID    int64  `json:"user_id"`
	ProductID string `json:"product_id"`
	UserTier  int    `json:"user_tier"`
}

type purchaseResponse struct {
	PurchaseID  string `json:"purchase_id"`
	Fulfillment string `json:"fulfillment"`
	PricePaid   int64  `json:"price_paid"`
}

// Purchase выполняет покупку товара из каталога.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "malformed_request"})
		return
	}

	res, err := h.service.Purchase(r.Context(), req.UserID, req.ProductID, model.Tier(req.UserTier))
	if err != nil {
		if errors.Is(err, fulfillment.ErrDeliveryFailed) {
			// Списание состоялось; доставку повторит планировщик.
			writeJSON(w, http.StatusBadGateway, errorResponse{
				Code:       "fulfillment_failed",
				PurchaseID: res.PurchaseID.String(),
			})
			return
		}
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, purchaseResponse{
		PurchaseID:  res.PurchaseID.String(),
		Fulfillment: res.Fulfillment,
		PricePaid:   res.PricePaid,
	})
}

type adjustRequest struct {
	UserID int64  `json:"user_id"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

type adjustResponse struct {
	TransactionID int64 `json:"transaction_id"`
	NewBalance    int64 `json:"new_balance"`
}

// Adjust изменяет счёт пользователя по запросу административного слоя.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "malformed_request"})
		return
	}

	txn, err := h.service.Adjust(r.Context(), req.UserID, req.Delta, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, adjustResponse{TransactionID: txn.ID, NewBalance: txn.ResultingBalance})
}

type evaluateRequest struct {
	UserID int64 `json:"user_id"`
}

type evaluateResponse struct {
	Granted []string `json:"granted"`
}

// Evaluate принудительно проверяет условия наград пользователя.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "malformed_request"})
		return
	}

	granted, err := h.service.Evaluate(r.Context(), req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ids := make([]string, 0, len(granted))
	for _, rw := range granted {
		ids = append(ids, rw.ID)
	}

	writeJSON(w, http.StatusOK, evaluateResponse{Granted: ids})
}

func userIDFromURL(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
}

type walletResponse struct {
	UserID      int64 `json:"user_id"`
	Balance     int64 `json:"balance"`
	TotalEarned int64 `json:"total_earned"`
	TotalSpent  int64 `json:"total_spent"`
	Level       int   `json:"level"`
}

// GetWallet возвращает счёт пользователя.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromURL(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_user"})
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, walletResponse{
		UserID:      wallet.UserID,
		Balance:     wallet.Balance,
		TotalEarned: wallet.TotalEarned,
		TotalSpent:  wallet.TotalSpent,
		Level:       wallet.Level,
	})
}

type transactionResponse struct {
	ID               int64  `json:"id"`
	Delta            int64  `json:"delta"`
	Reason           string `json:"reason"`
	ResultingBalance int64  `json:"resulting_balance"`
	CreatedAt        string `json:"created_at"`
}

// GetTransactions возвращает журнал операций пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromURL(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_user"})
		return
	}

	transactions, err := h.service.GetTransactions(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for _, t := range transactions {
		resp = append(resp, transactionResponse{
			ID:               t.ID,
			Delta:            t.Delta,
			Reason:           t.Reason,
			ResultingBalance: t.ResultingBalance,
			CreatedAt:        t.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type streakResponse struct {
	CurrentLength int    `json:"current_length"`
	LongestLength int    `json:"longest_length"`
	LastClaimDate string `json:"last_claim_date,omitempty"`
}

// GetStreak возвращает состояние серии пользователя.
func (h *Handler) GetStreak(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromURL(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_user"})
		return
	}

	streak, err := h.service.GetStreak(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := streakResponse{
		CurrentLength: streak.CurrentLength,
		LongestLength: streak.LongestLength,
	}
	if !streak.LastClaimDate.IsZero() {
		resp.LastClaimDate = streak.LastClaimDate.Format("2006-01-02")
	}

	writeJSON(w, http.StatusOK, resp)
}

type purchaseRecordResponse struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	PricePaid   int64  `json:"price_paid"`
	Fulfilled   bool   `json:"fulfilled"`
	PurchasedAt string `json:"purchased_at"`
}

// GetPurchases возвращает историю покупок пользователя.
func (h *Handler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromURL(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_user"})
		return
	}

	purchases, err := h.service.GetPurchases(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(purchases) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]purchaseRecordResponse, 0, len(purchases))
	for _, p := range purchases {
		resp = append(resp, purchaseRecordResponse{
			ID:          p.ID.String(),
			ProductID:   p.ProductID,
			PricePaid:   p.PricePaid,
			Fulfilled:   p.FulfilledAt != nil,
			PurchasedAt: p.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
