// Package event реализует внутреннюю шину уведомлений для слоя представления.
// Ядро публикует события с «голыми» данными; форматирование текста для
// пользователя остаётся за подписчиком.
package event

import (
	"sync"
	"time"
)

// Kind задаёт вид события экономики.
type Kind string

const (
	KindBalanceChanged    Kind = "balance_changed"
	KindRewardGranted     Kind = "reward_granted"
	KindPurchaseCompleted Kind = "purchase_completed"
)

// Event описывает одно уведомление о изменении состояния экономики.
type Event struct {
	Kind       Kind
	UserID     int64
	Delta      int64
	Balance    int64
	Reason     string
	RewardID   string
	PurchaseID string
	At         time.Time
}

// Bus — шина событий с несколькими подписчиками. Публикация не блокирует
// обработчик запроса: при заполненном буфере подписчика событие отбрасывается.
type Bus struct {
	mu     sync.Mutex
	subs   []chan Event
	buffer int
	closed bool
}

// NewBus создаёт шину с указанным размером буфера подписчика.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{buffer: buffer}
}

// Subscribe регистрирует нового подписчика и возвращает канал событий.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}

	b.subs = append(b.subs, ch)
	return ch
}

// Publish рассылает событие всем подписчикам без блокировки.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close закрывает каналы всех подписчиков.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
