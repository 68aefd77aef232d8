package fraud

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/cedarmint/cedar/config"
	"github.com/cedarmint/cedar/model"
)

// Input is the full evaluation context handed to every rule. Rules read
// from it and nothing else: the evaluation time is passed in rather than
// read from a clock, so re-evaluating the same input yields the same
// result.
type Input struct {
	Transaction    *model.Transaction
	RecentActivity []*model.Transaction
	EvaluatedAt    time.Time
	Config         config.FraudConfig
}

// Result is a single rule's contribution to the aggregate score. Score
// already carries the rule's configured weight.
type Result struct {
	Triggered bool
	Score     float64
	Reason    string
}

// Rule scores one risk signal of a proposed transaction. Implementations
// must be side-effect free; the engine runs them in a fixed order and
// sums their scores.
type Rule interface {
	ID() string
	Evaluate(in Input) Result
}

// VelocityRule flags source accounts that move too fast: more than
// VelocityMaxCount transactions, or more than VelocityMaxAmount minor
// units in total, inside the trailing VelocityWindow.
type VelocityRule struct{}

func (VelocityRule) ID() string {
	return "velocity"
}

func (VelocityRule) Evaluate(in Input) Result {
	cutoff := in.EvaluatedAt.Add(-in.Config.VelocityWindow.Duration)
	count := 0
	sum := big.NewInt(0)
	for _, txn := range in.RecentActivity {
		if txn.CreatedAt.Before(cutoff) {
			continue
		}
		count++
		if txn.PreciseAmount != nil {
			sum.Add(sum, txn.PreciseAmount)
		}
	}

	maxAmount := big.NewInt(in.Config.VelocityMaxAmount)
	if in.Config.VelocityMaxCount > 0 && count > in.Config.VelocityMaxCount {
		return Result{
			Triggered: true,
			Score:     in.Config.VelocityWeight,
			Reason:    fmt.Sprintf("%d transactions in trailing %s exceeds limit of %d", count, in.Config.VelocityWindow.Duration, in.Config.VelocityMaxCount),
		}
	}
	if in.Config.VelocityMaxAmount > 0 && sum.Cmp(maxAmount) > 0 {
		return Result{
			Triggered: true,
			Score:     in.Config.VelocityWeight,
			Reason:    fmt.Sprintf("total of %s minor units in trailing %s exceeds limit of %d", sum.String(), in.Config.VelocityWindow.Duration, in.Config.VelocityMaxAmount),
		}
	}
	return Result{}
}

// AmountOutlierRule flags amounts far outside the account's historical
// pattern. With fewer than OutlierMinimumSample prior transactions there
// is no pattern to deviate from and the rule stays silent.
type AmountOutlierRule struct{}

func (AmountOutlierRule) ID() string {
	return "amount_outlier"
}

func (AmountOutlierRule) Evaluate(in Input) Result {
	if len(in.RecentActivity) < in.Config.OutlierMinimumSample {
		return Result{}
	}

	amounts := make([]float64, 0, len(in.RecentActivity))
	for _, txn := range in.RecentActivity {
		if txn.PreciseAmount == nil {
			continue
		}
		f, _ := new(big.Float).SetInt(txn.PreciseAmount).Float64()
		amounts = append(amounts, f)
	}
	if len(amounts) < in.Config.OutlierMinimumSample {
		return Result{}
	}

	mean := 0.0
	for _, a := range amounts {
		mean += a
	}
	mean /= float64(len(amounts))

	variance := 0.0
	for _, a := range amounts {
		variance += (a - mean) * (a - mean)
	}
	stddev := math.Sqrt(variance / float64(len(amounts)))

	current, _ := new(big.Float).SetInt(in.Transaction.PreciseAmount).Float64()
	threshold := mean + in.Config.OutlierDeviations*stddev
	if stddev > 0 && current > threshold {
		return Result{
			Triggered: true,
			Score:     in.Config.OutlierWeight,
			Reason:    fmt.Sprintf("amount %.0f exceeds %.1f standard deviations above the account mean of %.0f", current, in.Config.OutlierDeviations, mean),
		}
	}
	return Result{}
}

// DestinationRiskRule flags transfers into accounts an operator has
// risk-listed in configuration.
type DestinationRiskRule struct{}

func (DestinationRiskRule) ID() string {
	return "destination_risk"
}

func (DestinationRiskRule) Evaluate(in Input) Result {
	if in.Transaction.Destination == "" {
		return Result{}
	}
	for _, listed := range in.Config.RiskListedAccounts {
		if listed == in.Transaction.Destination {
			return Result{
				Triggered: true,
				Score:     in.Config.DestinationWeight,
				Reason:    fmt.Sprintf("destination account %s is risk listed", in.Transaction.Destination),
			}
		}
	}
	return Result{}
}
