package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcsink/cdcsink/pkg/model"
)

func TestEngine_TransformEvent_AppliesRule(t *testing.T) {
	cfg := DefaultTransformationConfig()
	cfg.Rules = []TransformationRule{{
		Name:    "shift-name-to-full-name",
		Enabled: true,
		Actions: []Action{{Type: "kazaam", Spec: `[{"operation":"shift","spec":{"full_name":"name"}}]`}},
		ErrorHandling: ErrorHandlingPolicy{Strategy: ErrorStrategySkip, LogErrors: true},
	}}
	engine := NewEngine(cfg)

	ev := model.NewChangeEvent("1", time.Now(), model.TableMetadata{Name: "widgets"}, model.OpInsert)
	ev.SetData([]string{"name"}, map[string]interface{}{"name": "thing"})

	out, err := engine.TransformEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "thing", out.Data["full_name"])
	assert.Equal(t, "1", out.ID, "transform must not touch event identity")
}

func TestEngine_TransformEvent_DisabledRuleLeavesDataUntouched(t *testing.T) {
	cfg := DefaultTransformationConfig()
	cfg.Rules = []TransformationRule{{
		Name:    "noop",
		Enabled: false,
		Actions: []Action{{Type: "kazaam", Spec: `[{"operation":"shift","spec":{"x":"name"}}]`}},
	}}
	engine := NewEngine(cfg)

	ev := model.NewChangeEvent("2", time.Now(), model.TableMetadata{Name: "widgets"}, model.OpInsert)
	ev.SetData([]string{"name"}, map[string]interface{}{"name": "thing"})

	out, err := engine.TransformEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "thing", out.Data["name"])
}
