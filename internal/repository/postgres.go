// Package repository содержит реализацию доступа к данным в PostgreSQL.
//
// Все денежные операции выполняются как одна транзакция БД: проверка условий,
// изменение счёта и запись в журнал либо фиксируются вместе, либо не видны
// вовсе. Согласованность между репликами обеспечивают примитивы хранилища,
// а не блокировки в памяти процесса.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ekorolkova/fanpoints/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrInsufficientFunds возвращается, когда списание сделало бы баланс отрицательным.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateReaction возвращается при повторной реакции на тот же контент тем же эмодзи.
	ErrDuplicateReaction = errors.New("duplicate reaction")
	// ErrRateLimited возвращается, если не истёк интервал между реакциями.
	ErrRateLimited = errors.New("reaction rate limited")
	// ErrDailyCapReached возвращается при превышении суточного лимита реакций.
	ErrDailyCapReached = errors.New("daily reaction cap reached")
	// ErrAlreadyClaimedToday возвращается при повторной ежедневной отметке в тот же день.
	ErrAlreadyClaimedToday = errors.New("already claimed today")
	// ErrStoreUnavailable сигнализирует о временной недоступности хранилища; повтор безопасен.
	ErrStoreUnavailable = errors.New("store temporarily unavailable")
)

// opTimeout ограничивает длительность одного обращения к хранилищу.
const opTimeout = 5 * time.Second

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при конфликте сериализации или дедлоке.
// Атомарность операций гарантирует, что повтор не применит изменение дважды.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		err = fn(opCtx)
		cancel()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) {
			return err
		}

		if errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
			return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
				return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
			return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// adjustBalance изменяет счёт пользователя внутри уже открытой транзакции.
// Счёт создаётся лениво при первой операции. Изменение выполняется одним
// условным UPDATE: при delta < 0 и недостатке средств строка не обновляется
// и операция завершается ErrInsufficientFunds. Уровень пересчитывается
// детерминированно из total_earned. На каждое успешное изменение добавляется
// ровно одна запись журнала.
func adjustBalance(ctx context.Context, tx pgx.Tx, userID, delta int64, reason string) (model.Transaction, error) {
	var txn model.Transaction

	_, err := tx.Exec(ctx,
		`INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return txn, fmt.Errorf("ensure wallet: %w", err)
	}

	var balance, totalEarned int64
	err = tx.QueryRow(ctx,
		`UPDATE wallets
		    SET balance = balance + $2,
		        total_earned = total_earned + CASE WHEN $2 > 0 THEN $2 ELSE 0 END,
		        total_spent = total_spent + CASE WHEN $2 < 0 THEN -$2 ELSE 0 END,
		        updated_at = now()
		  WHERE user_id = $1 AND balance + $2 >= 0
		  RETURNING balance, total_earned`,
		userID, delta,
	).Scan(&balance, &totalEarned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return txn, ErrInsufficientFunds
		}
		return txn, fmt.Errorf("update wallet: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE wallets SET level = $2 WHERE user_id = $1`,
		userID, model.LevelForEarned(totalEarned),
	)
	if err != nil {
		return txn, fmt.Errorf("update level: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO transactions (user_id, delta, reason, resulting_balance)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		userID, delta, reason, balance,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return txn, fmt.Errorf("insert transaction: %w", err)
	}

	txn.UserID = userID
	txn.Delta = delta
	txn.Reason = reason
	txn.ResultingBalance = balance

	return txn, nil
}

// AdjustBalance атомарно изменяет счёт пользователя и записывает операцию в журнал.
func (r *PostgresRepository) AdjustBalance(ctx context.Context, userID, delta int64, reason string) (model.Transaction, error) {
	var txn model.Transaction

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		txn, err = adjustBalance(ctx, tx, userID, delta, reason)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})

	return txn, err
}

// GetWallet возвращает счёт пользователя. Для пользователя без операций
// возвращается нулевой счёт: ленивое создание происходит только при изменении.
func (r *PostgresRepository) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`SELECT user_id, balance, total_earned, total_spent, level, created_at, updated_at
		   FROM wallets WHERE user_id = $1`,
		userID,
	)

	var w model.Wallet
	err := row.Scan(&w.UserID, &w.Balance, &w.TotalEarned, &w.TotalSpent, &w.Level, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.Wallet{UserID: userID}, nil
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	return &w, nil
}

// GetTransactionsByUser возвращает журнал операций пользователя в порядке их выполнения.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, delta, reason, resulting_balance, created_at
		   FROM transactions
		  WHERE user_id = $1
		  ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Delta, &t.Reason, &t.ResultingBalance, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ReactionPolicy задаёт ограничения приёма реакций.
type ReactionPolicy struct {
	Cooldown time.Duration
	DailyCap int
	Amount   int64
}

// RegisterReaction атомарно фиксирует реакцию и начисляет баллы.
//
// Вставка записи о реакции выполняет проверку на дубликат: ON CONFLICT DO
// NOTHING гарантирует, что из двух одинаковых одновременных реакций начисление
// получит ровно одна. Перед проверками интервала и суточного лимита строка
// счёта блокируется FOR UPDATE: одновременные реакции одного пользователя на
// разный контент сериализуются, и каждая следующая видит уже зафиксированные
// строки предыдущей. При нарушении транзакция откатывается и запись не остаётся.
func (r *PostgresRepository) RegisterReaction(ctx context.Context, userID int64, contentID, emoji string, now time.Time, policy ReactionPolicy, reason string) (model.Transaction, error) {
	var txn model.Transaction

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`INSERT INTO reactions (user_id, content_id, emoji, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id, content_id, emoji) DO NOTHING`,
			userID, contentID, emoji, now,
		)
		if err != nil {
			return fmt.Errorf("insert reaction: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrDuplicateReaction
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}

		var lockedID int64
		err = tx.QueryRow(ctx,
			`SELECT user_id FROM wallets WHERE user_id = $1 FOR UPDATE`,
			userID,
		).Scan(&lockedID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}

		var lastAt *time.Time
		err = tx.QueryRow(ctx,
			`SELECT MAX(created_at) FROM reactions
			  WHERE user_id = $1 AND created_at < $2`,
			userID, now,
		).Scan(&lastAt)
		if err != nil {
			return fmt.Errorf("select last reaction: %w", err)
		}
		if lastAt != nil && now.Sub(*lastAt) < policy.Cooldown {
			return ErrRateLimited
		}

		var count int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM reactions
			  WHERE user_id = $1 AND created_at > $2`,
			userID, now.Add(-24*time.Hour),
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("count reactions: %w", err)
		}
		if count > policy.DailyCap {
			return ErrDailyCapReached
		}

		txn, err = adjustBalance(ctx, tx, userID, policy.Amount, reason)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})

	return txn, err
}

// ClaimPolicy задаёт размер начисления за ежедневную отметку.
type ClaimPolicy struct {
	Base      int64
	BonusStep int64
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ClaimDaily атомарно выполняет ежедневную отметку: переход состояния серии,
// начисление и запись журнала фиксируются одной транзакцией. Строка серии
// блокируется FOR UPDATE, поэтому две одновременные отметки сериализуются и
// вторая получает ErrAlreadyClaimedToday.
func (r *PostgresRepository) ClaimDaily(ctx context.Context, userID int64, now time.Time, policy ClaimPolicy, reason string) (model.Transaction, int, error) {
	var txn model.Transaction
	var newLength int

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO streaks (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("ensure streak: %w", err)
		}

		var current, longest int
		var lastClaim *time.Time
		err = tx.QueryRow(ctx,
			`SELECT current_length, longest_length, last_claim_date
			   FROM streaks WHERE user_id = $1 FOR UPDATE`,
			userID,
		).Scan(&current, &longest, &lastClaim)
		if err != nil {
			return fmt.Errorf("lock streak: %w", err)
		}

		today := utcDate(now)
		yesterday := today.AddDate(0, 0, -1)

		var award int64
		switch {
		case lastClaim != nil && utcDate(*lastClaim).Equal(today):
			return ErrAlreadyClaimedToday
		case lastClaim != nil && utcDate(*lastClaim).Equal(yesterday):
			newLength = current + 1
			award = policy.Base + int64(newLength)*policy.BonusStep
		default:
			// Пропущенный день обнуляет серию без льготного периода.
			newLength = 1
			award = policy.Base
		}

		if newLength > longest {
			longest = newLength
		}

		_, err = tx.Exec(ctx,
			`UPDATE streaks
			    SET current_length = $2, longest_length = $3, last_claim_date = $4
			  WHERE user_id = $1`,
			userID, newLength, longest, today,
		)
		if err != nil {
			return fmt.Errorf("update streak: %w", err)
		}

		txn, err = adjustBalance(ctx, tx, userID, award, reason)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})

	return txn, newLength, err
}

// GetStreak возвращает состояние серии пользователя.
func (r *PostgresRepository) GetStreak(ctx context.Context, userID int64) (*model.StreakState, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`SELECT user_id, current_length, longest_length, last_claim_date
		   FROM streaks WHERE user_id = $1`,
		userID,
	)

	var s model.StreakState
	var lastClaim *time.Time
	err := row.Scan(&s.UserID, &s.CurrentLength, &s.LongestLength, &lastClaim)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.StreakState{UserID: userID}, nil
		}
		return nil, fmt.Errorf("get streak: %w", err)
	}
	if lastClaim != nil {
		s.LastClaimDate = *lastClaim
	}

	return &s, nil
}

// ExpireStreaks обнуляет счётчики серий пользователей, пропустивших день.
// Деньги при этом не двигаются: это чистая бухгалтерия серии.
func (r *PostgresRepository) ExpireStreaks(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	yesterday := utcDate(now).AddDate(0, 0, -1)

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE streaks SET current_length = 0
		  WHERE current_length > 0 AND last_claim_date < $1`,
		yesterday,
	)
	if err != nil {
		return 0, fmt.Errorf("expire streaks: %w", err)
	}

	return cmdTag.RowsAffected(), nil
}

// CreatePurchase атомарно списывает цену и создаёт запись о покупке.
// Цена передаётся уже рассчитанной на момент покупки. Доставка товара
// выполняется отдельно и идемпотентно по идентификатору покупки.
func (r *PostgresRepository) CreatePurchase(ctx context.Context, id uuid.UUID, userID int64, productID string, price int64, fulfillment, reason string) (model.Purchase, error) {
	var p model.Purchase

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err = adjustBalance(ctx, tx, userID, -price, reason); err != nil {
			return err
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO purchases (id, user_id, product_id, price_paid, fulfillment)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING created_at`,
			id, userID, productID, price, fulfillment,
		).Scan(&p.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return p, err
	}

	p.ID = id
	p.UserID = userID
	p.ProductID = productID
	p.PricePaid = price
	p.Fulfillment = fulfillment

	return p, nil
}

// MarkPurchaseFulfilled отмечает покупку доставленной. Повторный вызов безвреден.
func (r *PostgresRepository) MarkPurchaseFulfilled(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx,
		`UPDATE purchases SET fulfilled_at = now() WHERE id = $1 AND fulfilled_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark purchase fulfilled: %w", err)
	}
	return nil
}

// GetPendingFulfillments возвращает покупки, ожидающие доставки.
func (r *PostgresRepository) GetPendingFulfillments(ctx context.Context, limit int) ([]model.Purchase, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, product_id, price_paid, fulfillment, fulfilled_at, created_at
		   FROM purchases
		  WHERE fulfilled_at IS NULL
		  ORDER BY created_at
		  LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending fulfillments: %w", err)
	}
	defer rows.Close()

	return scanPurchases(rows)
}

// GetPurchasesByUser возвращает историю покупок пользователя.
func (r *PostgresRepository) GetPurchasesByUser(ctx context.Context, userID int64) ([]model.Purchase, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, product_id, price_paid, fulfillment, fulfilled_at, created_at
		   FROM purchases
		  WHERE user_id = $1
		  ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select purchases: %w", err)
	}
	defer rows.Close()

	return scanPurchases(rows)
}

func scanPurchases(rows pgx.Rows) ([]model.Purchase, error) {
	var res []model.Purchase
	for rows.Next() {
		var p model.Purchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.ProductID, &p.PricePaid, &p.Fulfillment, &p.FulfilledAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetProgress возвращает снимок показателей пользователя для проверки условий наград.
func (r *PostgresRepository) GetProgress(ctx context.Context, userID int64) (model.Progress, error) {
	wallet, err := r.GetWallet(ctx, userID)
	if err != nil {
		return model.Progress{}, err
	}

	streak, err := r.GetStreak(ctx, userID)
	if err != nil {
		return model.Progress{}, err
	}

	return model.Progress{Wallet: *wallet, Streak: *streak}, nil
}

// SyncRewards приводит таблицу наград к конфигурации администратора.
// Награды, отсутствующие в конфигурации, деактивируются, но не удаляются:
// на них могут ссылаться выданные гранты.
func (r *PostgresRepository) SyncRewards(ctx context.Context, rewards []model.Reward) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE rewards SET active = FALSE`); err != nil {
		return fmt.Errorf("deactivate rewards: %w", err)
	}

	for _, rw := range rewards {
		conditions, err := json.Marshal(rw.Conditions)
		if err != nil {
			return fmt.Errorf("marshal conditions: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO rewards (id, title, amount, cap, repeatable, conditions, active)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE
			    SET title = EXCLUDED.title,
			        amount = EXCLUDED.amount,
			        cap = EXCLUDED.cap,
			        repeatable = EXCLUDED.repeatable,
			        conditions = EXCLUDED.conditions,
			        active = EXCLUDED.active`,
			rw.ID, rw.Title, rw.Amount, rw.Cap, rw.Repeatable, conditions, rw.Active,
		)
		if err != nil {
			return fmt.Errorf("upsert reward %s: %w", rw.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetActiveRewards возвращает действующие награды.
func (r *PostgresRepository) GetActiveRewards(ctx context.Context) ([]model.Reward, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, title, amount, cap, repeatable, conditions FROM rewards WHERE active`,
	)
	if err != nil {
		return nil, fmt.Errorf("select rewards: %w", err)
	}
	defer rows.Close()

	var res []model.Reward
	for rows.Next() {
		var rw model.Reward
		var conditions []byte
		if err := rows.Scan(&rw.ID, &rw.Title, &rw.Amount, &rw.Cap, &rw.Repeatable, &conditions); err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		if err := json.Unmarshal(conditions, &rw.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal conditions: %w", err)
		}
		rw.Active = true
		res = append(res, rw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// nonRepeatableGrantDate — фиксированное значение granted_on для неповторяемых
// наград: первичный ключ reward_grants тогда гарантирует однократную выдачу,
// в том числе для двух оценок по разные стороны границы суток UTC.
var nonRepeatableGrantDate = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// GrantReward атомарно выдаёт награду: запись гранта и начисление фиксируются
// одной транзакцией, поэтому повторная оценка условий идемпотентна.
// Уникальность гранта обеспечивает первичный ключ reward_grants: для
// повторяемых наград granted_on — календарная дата UTC, для неповторяемых —
// фиксированная дата.
func (r *PostgresRepository) GrantReward(ctx context.Context, userID int64, reward model.Reward, now time.Time, reason string) (bool, model.Transaction, error) {
	var granted bool
	var txn model.Transaction

	grantedOn := utcDate(now)
	if !reward.Repeatable {
		grantedOn = nonRepeatableGrantDate
	}

	err := r.withRetry(ctx, func(ctx context.Context) error {
		granted = false

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`INSERT INTO reward_grants (user_id, reward_id, granted_on, granted_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id, reward_id, granted_on) DO NOTHING`,
			userID, reward.ID, grantedOn, now,
		)
		if err != nil {
			return fmt.Errorf("insert grant: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return nil
		}

		txn, err = adjustBalance(ctx, tx, userID, reward.AwardValue(), reason)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		granted = true
		return nil
	})

	return granted, txn, err
}

// AcquireLease захватывает аренду одиночной фоновой задачи. Возвращает true,
// если аренда получена этим экземпляром; действующая чужая аренда не
// перехватывается до истечения срока.
func (r *PostgresRepository) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var acquired string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO job_leases (name, holder, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE
		    SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		  WHERE job_leases.expires_at <= $4 OR job_leases.holder = EXCLUDED.holder
		 RETURNING name`,
		name, holder, now.Add(ttl), now,
	).Scan(&acquired)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("acquire lease: %w", err)
	}

	return true, nil
}
