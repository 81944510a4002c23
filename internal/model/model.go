// Package model содержит доменные сущности виртуальной экономики фан-клуба.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Tier описывает уровень доступа пользователя или контента.
// Уровни назначает внешний слой подписок; ядро сравнивает их как числа.
type Tier int

const (
	TierBasic   Tier = 0
	TierPlus    Tier = 1
	TierPremium Tier = 2
)

// Wallet представляет счёт пользователя в баллах.
// Инвариант: Balance = TotalEarned - TotalSpent >= 0.
type Wallet struct {
	UserID      int64
	Balance     int64
	TotalEarned int64
	TotalSpent  int64
	Level       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// levelThresholds задаёт минимальный суммарный заработок для каждого уровня.
var levelThresholds = []int64{0, 100, 300, 700, 1500, 3000, 6000, 12000, 25000, 50000}

// LevelForEarned вычисляет уровень пользователя по суммарному заработку.
// Функция монотонна: уровень не понижается, пока TotalEarned растёт.
func LevelForEarned(totalEarned int64) int {
	level := 0
	for i, threshold := range levelThresholds {
		if totalEarned >= threshold {
			level = i
		}
	}
	return level
}

// Transaction описывает одну запись журнала операций по счёту.
// Записи неизменяемы; их порядок определяет историю счёта.
type Transaction struct {
	ID               int64
	UserID           int64
	Delta            int64
	Reason           string
	ResultingBalance int64
	CreatedAt        time.Time
}

// Reaction описывает факт реакции пользователя на единицу контента.
// Уникальна по тройке (UserID, ContentID, Emoji).
type Reaction struct {
	UserID    int64
	ContentID string
	Emoji     string
	CreatedAt time.Time
}

// StreakState хранит состояние серии ежедневных отметок пользователя.
type StreakState struct {
	UserID        int64
	CurrentLength int
	LongestLength int
	LastClaimDate time.Time
}

// Product описывает товар каталога. Каталог принадлежит внешнему слою и
// доступен ядру только для чтения.
type Product struct {
	ID          string         `yaml:"id"`
	Title       string         `yaml:"title"`
	Price       int64          `yaml:"price"`
	Fulfillment string         `yaml:"fulfillment"`
	Discounts   map[Tier]int64 `yaml:"discounts"`
	Active      bool           `yaml:"active"`
}

// PriceForTier возвращает цену товара с учётом скидки уровня подписки.
// Скидка задаётся в процентах; отсутствие записи означает полную цену.
func (p Product) PriceForTier(tier Tier) int64 {
	discount, ok := p.Discounts[tier]
	if !ok || discount <= 0 {
		return p.Price
	}
	if discount > 100 {
		discount = 100
	}
	return p.Price - p.Price*discount/100
}

// Purchase описывает факт покупки товара. Создаётся атомарно со списанием.
type Purchase struct {
	ID          uuid.UUID
	UserID      int64
	ProductID   string
	PricePaid   int64
	Fulfillment string
	FulfilledAt *time.Time
	CreatedAt   time.Time
}

// ConditionKind задаёт закрытый набор видов условий награды.
type ConditionKind string

const (
	ConditionStreakLength ConditionKind = "streak_length"
	ConditionTotalEarned  ConditionKind = "total_earned"
	ConditionLevel        ConditionKind = "level"
	ConditionTotalSpent   ConditionKind = "total_spent"
)

// KnownConditionKind сообщает, относится ли вид условия к закрытому набору.
func KnownConditionKind(kind ConditionKind) bool {
	switch kind {
	case ConditionStreakLength, ConditionTotalEarned, ConditionLevel, ConditionTotalSpent:
		return true
	}
	return false
}

// Condition — одно условие награды: показатель не ниже порога.
type Condition struct {
	Kind      ConditionKind `yaml:"kind" json:"kind"`
	Threshold int64         `yaml:"threshold" json:"threshold"`
}

// Progress — снимок показателей пользователя для проверки условий наград.
type Progress struct {
	Wallet Wallet
	Streak StreakState
}

// Holds проверяет условие по снимку показателей. Неизвестный вид условия
// считается невыполненным, чтобы ошибочная конфигурация не выдавала награды.
func (c Condition) Holds(p Progress) bool {
	switch c.Kind {
	case ConditionStreakLength:
		return int64(p.Streak.CurrentLength) >= c.Threshold
	case ConditionTotalEarned:
		return p.Wallet.TotalEarned >= c.Threshold
	case ConditionLevel:
		return int64(p.Wallet.Level) >= c.Threshold
	case ConditionTotalSpent:
		return p.Wallet.TotalSpent >= c.Threshold
	}
	return false
}

// Reward описывает награду, настраиваемую администратором.
// Все условия должны выполняться одновременно.
type Reward struct {
	ID         string      `yaml:"id"`
	Title      string      `yaml:"title"`
	Amount     int64       `yaml:"amount"`
	Cap        int64       `yaml:"cap"`
	Repeatable bool        `yaml:"repeatable"`
	Conditions []Condition `yaml:"conditions"`
	Active     bool        `yaml:"active"`
}

// AwardValue возвращает размер начисления с учётом настроенного максимума.
func (r Reward) AwardValue() int64 {
	if r.Cap > 0 && r.Amount > r.Cap {
		return r.Cap
	}
	return r.Amount
}

// Eligible сообщает, выполнены ли все условия награды для снимка показателей.
func (r Reward) Eligible(p Progress) bool {
	for _, c := range r.Conditions {
		if !c.Holds(p) {
			return false
		}
	}
	return true
}

// RewardGrant фиксирует факт выдачи награды пользователю.
type RewardGrant struct {
	UserID    int64
	RewardID  string
	GrantedAt time.Time
}
