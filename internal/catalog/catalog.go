// Package catalog загружает каталог товаров, настройки начислений и
// определения наград из YAML-файла администратора. Ядро читает каталог,
// но никогда его не изменяет.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ekorolkova/fanpoints/internal/model"
)

// ErrProductNotFound возвращается, если товар отсутствует или снят с продажи.
var ErrProductNotFound = errors.New("product not available")

// Earning задаёт правила начисления баллов за реакции и ежедневные отметки.
type Earning struct {
	ReactionAmount          int64 `yaml:"reaction_amount"`
	ReactionCooldownSeconds int   `yaml:"reaction_cooldown_seconds"`
	ReactionDailyCap        int   `yaml:"reaction_daily_cap"`
	ClaimBase               int64 `yaml:"claim_base"`
	ClaimBonusStep          int64 `yaml:"claim_bonus_step"`
}

// ReactionCooldown возвращает интервал между реакциями как time.Duration.
func (e Earning) ReactionCooldown() time.Duration {
	return time.Duration(e.ReactionCooldownSeconds) * time.Second
}

type file struct {
	Earning  Earning         `yaml:"earning"`
	Products []model.Product `yaml:"products"`
	Rewards  []model.Reward  `yaml:"rewards"`
}

// Catalog хранит загруженную конфигурацию экономики.
type Catalog struct {
	earning  Earning
	products map[string]model.Product
	rewards  []model.Reward
}

// defaultEarning используется для незаполненных полей секции earning.
var defaultEarning = Earning{
	ReactionAmount:          5,
	ReactionCooldownSeconds: 10,
	ReactionDailyCap:        30,
	ClaimBase:               20,
	ClaimBonusStep:          1,
}

// Load читает и проверяет конфигурацию каталога из YAML-файла.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	return Parse(data)
}

// Parse разбирает конфигурацию каталога из YAML-данных.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}

	applyEarningDefaults(&f.Earning)

	c := &Catalog{
		earning:  f.Earning,
		products: make(map[string]model.Product, len(f.Products)),
		rewards:  f.Rewards,
	}

	for _, p := range f.Products {
		if p.ID == "" {
			return nil, errors.New("product without id")
		}
		if p.Price <= 0 {
			return nil, fmt.Errorf("product %s: price must be positive", p.ID)
		}
		if p.Fulfillment == "" {
			return nil, fmt.Errorf("product %s: fulfillment descriptor required", p.ID)
		}
		if _, ok := c.products[p.ID]; ok {
			return nil, fmt.Errorf("duplicate product id %s", p.ID)
		}
		c.products[p.ID] = p
	}

	seen := make(map[string]struct{}, len(f.Rewards))
	for _, r := range f.Rewards {
		if r.ID == "" {
			return nil, errors.New("reward without id")
		}
		if _, ok := seen[r.ID]; ok {
			return nil, fmt.Errorf("duplicate reward id %s", r.ID)
		}
		seen[r.ID] = struct{}{}

		if r.Amount <= 0 {
			return nil, fmt.Errorf("reward %s: amount must be positive", r.ID)
		}
		if len(r.Conditions) == 0 {
			return nil, fmt.Errorf("reward %s: at least one condition required", r.ID)
		}
		for _, cond := range r.Conditions {
			if !model.KnownConditionKind(cond.Kind) {
				return nil, fmt.Errorf("reward %s: unknown condition kind %q", r.ID, cond.Kind)
			}
			if cond.Threshold <= 0 {
				return nil, fmt.Errorf("reward %s: condition threshold must be positive", r.ID)
			}
		}
	}

	return c, nil
}

func applyEarningDefaults(e *Earning) {
	if e.ReactionAmount <= 0 {
		e.ReactionAmount = defaultEarning.ReactionAmount
	}
	if e.ReactionCooldownSeconds <= 0 {
		e.ReactionCooldownSeconds = defaultEarning.ReactionCooldownSeconds
	}
	if e.ReactionDailyCap <= 0 {
		e.ReactionDailyCap = defaultEarning.ReactionDailyCap
	}
	if e.ClaimBase <= 0 {
		e.ClaimBase = defaultEarning.ClaimBase
	}
	if e.ClaimBonusStep < 0 {
		e.ClaimBonusStep = defaultEarning.ClaimBonusStep
	}
}

// Earning возвращает правила начисления.
func (c *Catalog) Earning() Earning {
	return c.earning
}

// Product возвращает активный товар по идентификатору.
func (c *Catalog) Product(id string) (model.Product, error) {
	p, ok := c.products[id]
	if !ok || !p.Active {
		return model.Product{}, ErrProductNotFound
	}
	return p, nil
}

// Rewards возвращает определения наград из конфигурации.
func (c *Catalog) Rewards() []model.Reward {
	return c.rewards
}
