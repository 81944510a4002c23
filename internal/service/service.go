// Package service реализует бизнес-логику экономики fanpoints.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekorolkova/fanpoints/internal/catalog"
	"github.com/ekorolkova/fanpoints/internal/event"
	"github.com/ekorolkova/fanpoints/internal/metrics"
	"github.com/ekorolkova/fanpoints/internal/model"
	"github.com/ekorolkova/fanpoints/internal/repository"
)

// ErrInvalidReason возвращается при попытке изменить счёт с пустым основанием.
var (
	ErrInvalidReason = errors.New("reason must not be empty")
	// ErrTierForbidden возвращается, если уровень подписки не даёт доступа к контенту.
	ErrTierForbidden = errors.New("content tier not accessible")
	// ErrInvalidReaction возвращается при реакции без контента или эмодзи.
	ErrInvalidReaction = errors.New("content id and emoji required")
	// ErrInvalidUser возвращается при неположительном идентификаторе пользователя.
	ErrInvalidUser = errors.New("user id must be positive")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	AdjustBalance(ctx context.Context, userID, delta int64, reason string) (model.Transaction, error)
	GetWallet(ctx context.Context, userID int64) (*model.Wallet, error)
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error)
	RegisterReaction(ctx context.Context, userID int64, contentID, emoji string, now time.Time, policy repository.ReactionPolicy, reason string) (model.Transaction, error)
	ClaimDaily(ctx context.Context, userID int64, now time.Time, policy repository.ClaimPolicy, reason string) (model.Transaction, int, error)
	GetStreak(ctx context.Context, userID int64) (*model.StreakState, error)
	ExpireStreaks(ctx context.Context, now time.Time) (int64, error)
	CreatePurchase(ctx context.Context, id uuid.UUID, userID int64, productID string, price int64, fulfillment, reason string) (model.Purchase, error)
	MarkPurchaseFulfilled(ctx context.Context, id uuid.UUID) error
	GetPendingFulfillments(ctx context.Context, limit int) ([]model.Purchase, error)
	GetPurchasesByUser(ctx context.Context, userID int64) ([]model.Purchase, error)
	GetProgress(ctx context.Context, userID int64) (model.Progress, error)
	SyncRewards(ctx context.Context, rewards []model.Reward) error
	GetActiveRewards(ctx context.Context) ([]model.Reward, error)
	GrantReward(ctx context.Context, userID int64, reward model.Reward, now time.Time, reason string) (bool, model.Transaction, error)
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error)
}

// Catalog описывает контракт каталога товаров и конфигурации начислений.
type Catalog interface {
	Earning() catalog.Earning
	Product(id string) (model.Product, error)
	Rewards() []model.Reward
}

// Deliverer описывает контракт доставки купленных товаров.
type Deliverer interface {
	Deliver(ctx context.Context, p model.Purchase) error
}

// Service содержит бизнес-логику экономики fanpoints.
type Service struct {
	repo      Repository
	catalog   Catalog
	deliverer Deliverer
	bus       *event.Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewService создаёт новый сервис экономики.
func NewService(repo Repository, cat Catalog, deliverer Deliverer, bus *event.Bus, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		catalog:   cat,
		deliverer: deliverer,
		bus:       bus,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.bus != nil {
		s.bus.Close()
	}
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// SyncRewards приводит хранимые определения наград к конфигурации администратора.
func (s *Service) SyncRewards(ctx context.Context) error {
	return s.repo.SyncRewards(ctx, s.catalog.Rewards())
}

// Adjust атомарно изменяет счёт пользователя с указанным основанием.
func (s *Service) Adjust(ctx context.Context, userID, delta int64, reason string) (model.Transaction, error) {
	if userID <= 0 {
		return model.Transaction{}, ErrInvalidUser
	}
	if reason == "" {
		return model.Transaction{}, ErrInvalidReason
	}

	txn, err := s.repo.AdjustBalance(ctx, userID, delta, reason)
	if err != nil {
		return model.Transaction{}, err
	}

	s.publishBalanceChanged(txn)
	s.evaluateAfter(ctx, userID, "adjust")

	return txn, nil
}

// ReactResult — результат принятой реакции.
type ReactResult struct {
	Credited int64
}

// React проверяет реакцию и начисляет баллы за неё.
// Порядок проверок: доступ по уровню, дубликат, интервал, суточный лимит.
func (s *Service) React(ctx context.Context, userID int64, contentID, emoji string, contentTier, userTier model.Tier) (ReactResult, error) {
	if userID <= 0 {
		return ReactResult{}, ErrInvalidUser
	}
	if contentID == "" || emoji == "" {
		return ReactResult{}, ErrInvalidReaction
	}
	if userTier < contentTier {
		s.rejectReaction("tier_forbidden")
		return ReactResult{}, ErrTierForbidden
	}

	earning := s.catalog.Earning()
	policy := repository.ReactionPolicy{
		Cooldown: earning.ReactionCooldown(),
		DailyCap: earning.ReactionDailyCap,
		Amount:   earning.ReactionAmount,
	}

	txn, err := s.repo.RegisterReaction(ctx, userID, contentID, emoji, s.now(), policy, "content reaction")
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateReaction):
			s.rejectReaction("duplicate")
		case errors.Is(err, repository.ErrRateLimited):
			s.rejectReaction("rate_limited")
		case errors.Is(err, repository.ErrDailyCapReached):
			s.rejectReaction("daily_cap")
		}
		return ReactResult{}, err
	}

	if s.metrics != nil {
		s.metrics.ReactionsCredited.Inc()
	}
	s.publishBalanceChanged(txn)
	s.evaluateAfter(ctx, userID, "reaction")

	return ReactResult{Credited: txn.Delta}, nil
}

func (s *Service) rejectReaction(cause string) {
	if s.metrics != nil {
		s.metrics.ReactionsRejected.WithLabelValues(cause).Inc()
	}
}

// ClaimResult — результат ежедневной отметки.
type ClaimResult struct {
	Awarded      int64
	StreakLength int
}

// Claim выполняет ежедневную отметку пользователя и начисляет баллы за серию.
func (s *Service) Claim(ctx context.Context, userID int64) (ClaimResult, error) {
	if userID <= 0 {
		return ClaimResult{}, ErrInvalidUser
	}

	earning := s.catalog.Earning()
	policy := repository.ClaimPolicy{
		Base:      earning.ClaimBase,
		BonusStep: earning.ClaimBonusStep,
	}

	txn, streakLength, err := s.repo.ClaimDaily(ctx, userID, s.now(), policy, "daily claim")
	if err != nil {
		return ClaimResult{}, err
	}

	if s.metrics != nil {
		s.metrics.ClaimsTotal.Inc()
	}
	s.publishBalanceChanged(txn)
	s.evaluateAfter(ctx, userID, "claim")

	return ClaimResult{Awarded: txn.Delta, StreakLength: streakLength}, nil
}

// PurchaseResult — результат покупки товара.
type PurchaseResult struct {
	PurchaseID  uuid.UUID
	Fulfillment string
	PricePaid   int64
}

// Purchase списывает цену товара и создаёт запись о покупке. Цена вычисляется
// на момент покупки с учётом скидки уровня подписки. Доставка — идемпотентный
// побочный эффект: её неудача не отменяет списание и не возвращает средства.
func (s *Service) Purchase(ctx context.Context, userID int64, productID string, userTier model.Tier) (PurchaseResult, error) {
	if userID <= 0 {
		return PurchaseResult{}, ErrInvalidUser
	}

	product, err := s.catalog.Product(productID)
	if err != nil {
		return PurchaseResult{}, err
	}

	price := product.PriceForTier(userTier)
	purchaseID := uuid.New()

	p, err := s.repo.CreatePurchase(ctx, purchaseID, userID, product.ID, price, product.Fulfillment,
		fmt.Sprintf("shop purchase: %s", product.ID))
	if err != nil {
		return PurchaseResult{}, err
	}

	if s.metrics != nil {
		s.metrics.PurchasesTotal.Inc()
	}

	s.publish(event.Event{
		Kind:       event.KindBalanceChanged,
		UserID:     userID,
		Delta:      -price,
		Reason:     fmt.Sprintf("shop purchase: %s", product.ID),
		PurchaseID: purchaseID.String(),
		At:         s.now(),
	})

	result := PurchaseResult{
		PurchaseID:  purchaseID,
		Fulfillment: product.Fulfillment,
		PricePaid:   price,
	}

	if s.deliverer != nil {
		if err := s.deliverer.Deliver(ctx, p); err != nil {
			// Покупка остаётся в ожидании доставки; планировщик повторит её.
			s.logger.Warn("fulfillment delivery failed",
				zap.String("purchaseID", purchaseID.String()), zap.Error(err))
			s.evaluateAfter(ctx, userID, "purchase")
			return result, err
		}
		if err := s.repo.MarkPurchaseFulfilled(ctx, purchaseID); err != nil {
			s.logger.Warn("mark purchase fulfilled failed",
				zap.String("purchaseID", purchaseID.String()), zap.Error(err))
		}
	}

	s.publish(event.Event{
		Kind:       event.KindPurchaseCompleted,
		UserID:     userID,
		Delta:      -price,
		PurchaseID: purchaseID.String(),
		At:         s.now(),
	})

	s.evaluateAfter(ctx, userID, "purchase")

	return result, nil
}

// Evaluate проверяет условия всех действующих наград для пользователя и выдаёт
// положенные. Проверка и выдача идемпотентны: повторный вызов после пересечения
// порога не выдаёт награду второй раз.
func (s *Service) Evaluate(ctx context.Context, userID int64) ([]model.Reward, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}

	rewards, err := s.repo.GetActiveRewards(ctx)
	if err != nil {
		return nil, err
	}

	progress, err := s.repo.GetProgress(ctx, userID)
	if err != nil {
		return nil, err
	}

	var granted []model.Reward
	for _, reward := range rewards {
		if !reward.Eligible(progress) {
			continue
		}

		ok, txn, err := s.repo.GrantReward(ctx, userID, reward, s.now(), fmt.Sprintf("reward: %s", reward.ID))
		if err != nil {
			return granted, err
		}
		if !ok {
			continue
		}

		granted = append(granted, reward)

		if s.metrics != nil {
			s.metrics.RewardsGranted.Inc()
		}
		s.publishBalanceChanged(txn)
		s.publish(event.Event{
			Kind:     event.KindRewardGranted,
			UserID:   userID,
			Delta:    reward.AwardValue(),
			RewardID: reward.ID,
			At:       s.now(),
		})

		// Начисление награды меняет показатели и может открыть следующую.
		progress, err = s.repo.GetProgress(ctx, userID)
		if err != nil {
			return granted, err
		}
	}

	return granted, nil
}

// evaluateAfter запускает проверку наград после успешной операции.
// Неудача проверки не отменяет уже зафиксированную операцию.
func (s *Service) evaluateAfter(ctx context.Context, userID int64, trigger string) {
	if _, err := s.Evaluate(ctx, userID); err != nil {
		s.logger.Warn("reward evaluation failed",
			zap.Int64("userID", userID), zap.String("trigger", trigger), zap.Error(err))
	}
}

// GetWallet возвращает счёт пользователя.
func (s *Service) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	return s.repo.GetWallet(ctx, userID)
}

// GetTransactions возвращает журнал операций пользователя.
func (s *Service) GetTransactions(ctx context.Context, userID int64) ([]model.Transaction, error) {
	return s.repo.GetTransactionsByUser(ctx, userID)
}

// GetStreak возвращает состояние серии пользователя.
func (s *Service) GetStreak(ctx context.Context, userID int64) (*model.StreakState, error) {
	return s.repo.GetStreak(ctx, userID)
}

// GetPurchases возвращает историю покупок пользователя.
func (s *Service) GetPurchases(ctx context.Context, userID int64) ([]model.Purchase, error) {
	return s.repo.GetPurchasesByUser(ctx, userID)
}

// ExpireStreaks обнуляет серии пользователей, пропустивших день.
// Вызывается ежедневной фоновой задачей; денег не двигает.
func (s *Service) ExpireStreaks(ctx context.Context, now time.Time) (int64, error) {
	expired, err := s.repo.ExpireStreaks(ctx, now)
	if err != nil {
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.SweepRuns.Inc()
		s.metrics.SweepExpired.Add(float64(expired))
	}

	return expired, nil
}

// AcquireLease захватывает аренду одиночной фоновой задачи.
func (s *Service) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	return s.repo.AcquireLease(ctx, name, holder, ttl, s.now())
}

// DeliverPending повторно доставляет покупки, ожидающие доставки.
// Доставка идемпотентна по идентификатору покупки и не трогает счёт.
func (s *Service) DeliverPending(ctx context.Context, limit int) (int, error) {
	if s.deliverer == nil {
		return 0, nil
	}

	pending, err := s.repo.GetPendingFulfillments(ctx, limit)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, p := range pending {
		if err := s.deliverer.Deliver(ctx, p); err != nil {
			s.logger.Warn("pending fulfillment delivery failed",
				zap.String("purchaseID", p.ID.String()), zap.Error(err))
			continue
		}
		if err := s.repo.MarkPurchaseFulfilled(ctx, p.ID); err != nil {
			return delivered, err
		}

		delivered++
		s.publish(event.Event{
			Kind:       event.KindPurchaseCompleted,
			UserID:     p.UserID,
			Delta:      -p.PricePaid,
			PurchaseID: p.ID.String(),
			At:         s.now(),
		})
	}

	return delivered, nil
}

func (s *Service) publishBalanceChanged(txn model.Transaction) {
	s.publish(event.Event{
		Kind:    event.KindBalanceChanged,
		UserID:  txn.UserID,
		Delta:   txn.Delta,
		Balance: txn.ResultingBalance,
		Reason:  txn.Reason,
		At:      txn.CreatedAt,
	})
}

func (s *Service) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
