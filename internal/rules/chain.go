package rules

import (
	"context"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

// Chain runs evaluators in order and concatenates their findings. The first
// error stops the chain.
type Chain []core.RuleEvaluator

var _ core.RuleEvaluator = Chain(nil)

func (c Chain) Evaluate(ctx context.Context, in core.EvalInput) ([]core.RuleViolation, error) {
	var out []core.RuleViolation
	for _, e := range c {
		if e == nil {
			continue
		}
		found, err := e.Evaluate(ctx, in)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}
