package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/model"
)

// EventTransformer is the narrow interface a flow drives: one
// ChangeEvent in, one ChangeEvent (or a drop, via a non-nil error) out.
// *Engine satisfies it via TransformEvent below.
type EventTransformer interface {
	TransformEvent(ctx context.Context, ev *model.ChangeEvent) (*model.ChangeEvent, error)
}

// TransformEvent adapts Engine.Transform, the teacher's bare
// map[string]interface{} pipeline, onto model.ChangeEvent: it transforms
// ev.Data in place and leaves Table/Operation/ID untouched, so a rule spec
// written against raw column data keeps working unmodified.
func (e *Engine) TransformEvent(ctx context.Context, ev *model.ChangeEvent) (*model.ChangeEvent, error) {
	result, err := e.Transform(ctx, ev.Data)
	if err != nil {
		return nil, fmt.Errorf("transform: event %s: %w", ev.ID, err)
	}
	if !result.Success {
		return nil, fmt.Errorf("transform: event %s failed with %d rule error(s)", ev.ID, len(result.Errors))
	}
	ev.Data = result.Output
	return ev, nil
}

// NewEngineFromStreamConfig builds an Engine from a flow's transformation
// config block, or returns nil when transformation is unset or disabled: a
// nil *Engine is a valid, absent flow.Config.Transformer.
func NewEngineFromStreamConfig(cfg *config.TransformationRulesConfig) *Engine {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return NewEngine(TransformationConfig{
		Engine:        cfg.Engine,
		Rules:         convertRules(cfg.Rules),
		ErrorHandling: convertErrorHandling(cfg.ErrorHandling),
	})
}

func convertRules(rules []config.TransformationRule) []TransformationRule {
	out := make([]TransformationRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, TransformationRule{
			Name:          r.Name,
			Description:   r.Description,
			Enabled:       r.Enabled,
			Priority:      r.Priority,
			Conditions:    convertConditions(r.Conditions),
			Actions:       convertActions(r.Actions),
			ErrorHandling: convertErrorHandling(r.ErrorHandling),
			Metadata:      r.Metadata,
		})
	}
	return out
}

func convertConditions(conds []config.Condition) []Condition {
	out := make([]Condition, 0, len(conds))
	for _, c := range conds {
		out = append(out, Condition{Field: c.Field, Operator: c.Operator, Value: c.Value, Type: c.Type})
	}
	return out
}

func convertActions(actions []config.Action) []Action {
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		out = append(out, Action{Type: a.Type, Spec: a.Spec, Target: a.Target, Config: a.Config})
	}
	return out
}

func convertErrorHandling(p config.ErrorHandlingPolicy) ErrorHandlingPolicy {
	delay, _ := time.ParseDuration(p.RetryDelay)
	return ErrorHandlingPolicy{
		Strategy:        ErrorStrategy(p.Strategy),
		MaxRetries:      p.MaxRetries,
		RetryDelay:      delay,
		DeadLetterTopic: p.DeadLetterTopic,
		LogErrors:       p.LogErrors,
		Metrics:         p.Metrics,
	}
}
