// Package pricing maps (plan tier, generation type, unit count) to a credit cost.
package pricing

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/digkill/genstudio/internal/models"
)

// BaseCost is the per-unit credit price of each generation type.
var BaseCost = map[models.GenerationType]int64{
	models.GenerationApparel: 2,
	models.GenerationProduct: 1,
	models.GenerationVideo:   5,
}

// Rule adjusts pricing for one plan tier.
type Rule struct {
	Overrides      map[models.GenerationType]int64 `yaml:"overrides"`
	Multiplier     float64                         `yaml:"multiplier"`
	Unlimited      bool                            `yaml:"unlimited"`
	MonthlyCredits int64                           `yaml:"monthly_credits"`
}

type Rules map[models.PlanTier]Rule

// DefaultRules is the built-in price list used when no pricing file is configured.
func DefaultRules() Rules {
	return Rules{
		models.PlanFree:    {Multiplier: 1, MonthlyCredits: 10},
		models.PlanStarter: {Multiplier: 1, MonthlyCredits: 100},
		models.PlanProfessional: {
			Multiplier:     0.8,
			Overrides:      map[models.GenerationType]int64{models.GenerationVideo: 4},
			MonthlyCredits: 500,
		},
		models.PlanEnterprise: {Unlimited: true},
	}
}

// Validate rejects rule sets with unknown plans, unknown types or nonsensical numbers.
func (r Rules) Validate() error {
	for plan, rule := range r {
		if !plan.Valid() {
			return fmt.Errorf("unknown plan %q: %w", plan, models.ErrInvalidInput)
		}
		if rule.Multiplier < 0 || math.IsNaN(rule.Multiplier) || math.IsInf(rule.Multiplier, 0) {
			return fmt.Errorf("plan %s: multiplier must be a non-negative number: %w", plan, models.ErrInvalidInput)
		}
		if rule.MonthlyCredits < 0 {
			return fmt.Errorf("plan %s: monthly credits must not be negative: %w", plan, models.ErrInvalidInput)
		}
		for gt, cost := range rule.Overrides {
			if !gt.Valid() {
				return fmt.Errorf("plan %s: unknown generation type %q: %w", plan, gt, models.ErrInvalidInput)
			}
			if cost <= 0 {
				return fmt.Errorf("plan %s: override for %s must be positive: %w", plan, gt, models.ErrInvalidInput)
			}
		}
	}
	return nil
}

// ComputeCost prices count units of genType on plan. Unlimited plans cost 0, which callers
// treat as "no balance check, no deduction"; every other plan costs at least 1.
func ComputeCost(rules Rules, plan models.PlanTier, genType models.GenerationType, count int) (int64, error) {
	if count < 1 {
		return 0, fmt.Errorf("count %d must be at least 1: %w", count, models.ErrInvalidInput)
	}
	base, ok := BaseCost[genType]
	if !ok {
		return 0, fmt.Errorf("unknown generation type %q: %w", genType, models.ErrInvalidInput)
	}
	rule, ok := rules[plan]
	if !ok {
		return 0, fmt.Errorf("unknown plan %q: %w", plan, models.ErrInvalidInput)
	}
	if rule.Unlimited {
		return 0, nil
	}

	unit := base
	if override, ok := rule.Overrides[genType]; ok {
		unit = override
	}
	multiplier := rule.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}

	total := int64(math.Round(float64(unit) * multiplier * float64(count)))
	if total < 1 {
		total = 1
	}
	return total, nil
}

// Table is the live, swappable price list shared by the guard and the monthly reset.
type Table struct {
	mu    sync.RWMutex
	rules Rules
	log   *slog.Logger
}

func NewTable(rules Rules, log *slog.Logger) (*Table, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Table{rules: rules, log: log}, nil
}

// Replace swaps the rule set after validating it; the old rules stay on error.
func (t *Table) Replace(rules Rules) error {
	if err := rules.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.rules = rules
	t.mu.Unlock()
	return nil
}

func (t *Table) Rule(plan models.PlanTier) (Rule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rule, ok := t.rules[plan]
	return rule, ok
}

func (t *Table) ComputeCost(plan models.PlanTier, genType models.GenerationType, count int) (int64, error) {
	t.mu.RLock()
	rules := t.rules
	t.mu.RUnlock()
	return ComputeCost(rules, plan, genType, count)
}

// CostFor is the lenient entry point: a non-positive count is priced as one unit.
func (t *Table) CostFor(plan models.PlanTier, genType models.GenerationType, count int) (int64, error) {
	if count < 1 {
		if t.log != nil {
			t.log.Warn("normalizing generation count", "count", count, "plan", plan, "generation_type", genType)
		}
		count = 1
	}
	return t.ComputeCost(plan, genType, count)
}
