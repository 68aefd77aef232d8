package fraud

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cedarmint/cedar/config"
	"github.com/cedarmint/cedar/model"
)

var tracer = otel.Tracer("fraud.engine")

// Engine evaluates proposed transactions against an immutable rule set.
// The set is swapped atomically on reload, so in-flight evaluations
// always see a consistent slice.
type Engine struct {
	rules atomic.Value
}

// NewEngine returns an engine running the given rules in order. With no
// rules it falls back to the default set.
func NewEngine(rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	e := &Engine{}
	e.rules.Store(rules)
	return e
}

// DefaultRules is the standard rule set in its fixed evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		VelocityRule{},
		AmountOutlierRule{},
		DestinationRiskRule{},
	}
}

// Reload replaces the active rule set without interrupting evaluations.
func (e *Engine) Reload(rules []Rule) {
	e.rules.Store(rules)
}

// Rules returns the active rule set.
func (e *Engine) Rules() []Rule {
	return e.rules.Load().([]Rule)
}

// Evaluate scores the transaction against the active rules and the given
// trailing activity window. It reads no clocks and touches no stores, so
// a retried submission produces the same verdict for the same inputs.
func (e *Engine) Evaluate(ctx context.Context, transaction *model.Transaction, activity []*model.Transaction, evaluatedAt time.Time) (*model.FraudVerdict, error) {
	_, span := tracer.Start(ctx, "Evaluating fraud rules")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	in := Input{
		Transaction:    transaction,
		RecentActivity: activity,
		EvaluatedAt:    evaluatedAt,
		Config:         cnf.Fraud,
	}

	verdict := &model.FraudVerdict{
		VerdictID:      model.GenerateUUIDWithSuffix("vrd"),
		TransactionID:  transaction.TransactionID,
		TriggeredRules: []string{},
		Reasons:        []string{},
		EvaluatedAt:    evaluatedAt,
	}

	score := 0.0
	for _, rule := range e.Rules() {
		result := rule.Evaluate(in)
		if !result.Triggered {
			continue
		}
		score += result.Score
		verdict.TriggeredRules = append(verdict.TriggeredRules, rule.ID())
		verdict.Reasons = append(verdict.Reasons, result.Reason)
	}
	if score > 1.0 {
		score = 1.0
	}
	verdict.Score = score

	switch {
	case score >= cnf.Fraud.DeclineThreshold:
		verdict.Outcome = model.VerdictDeclined
	case score >= cnf.Fraud.FlagThreshold:
		verdict.Outcome = model.VerdictFlagged
	default:
		verdict.Outcome = model.VerdictClear
	}

	span.SetAttributes(
		attribute.Float64("fraud.score", verdict.Score),
		attribute.String("fraud.outcome", verdict.Outcome),
	)
	return verdict, nil
}
