package flow

import (
	"fmt"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/connector"
	"github.com/cdcsink/cdcsink/pkg/destination"
	"github.com/cdcsink/cdcsink/pkg/model"
	"github.com/cdcsink/cdcsink/pkg/notifier"
	"github.com/cdcsink/cdcsink/pkg/transform"
)

// Build assembles a Flow from one configured stream: it resolves the source
// connector and every fan-out destination through the process-wide factory
// registries (pkg/connector, pkg/destination), wires an optional transform
// stage, and hands the result to New. The caller owns registering the result
// with an orchestrator.
func Build(cfg config.StreamConfig, n notifier.Notifier) (*Flow, error) {
	conn, err := connector.Default.Build(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("flow: build connector for %q: %w", cfg.Name, err)
	}

	destConfigs := cfg.EffectiveDestinations()
	destinations := make(map[string]model.Destination, len(destConfigs))
	refs := make([]model.DestinationRef, 0, len(destConfigs))
	for _, dc := range destConfigs {
		d, err := destination.Default.Build(dc.Target)
		if err != nil {
			return nil, fmt.Errorf("flow: build destination %q for %q: %w", dc.Name, cfg.Name, err)
		}
		destinations[dc.Name] = d
		refs = append(refs, model.DestinationRef{Name: dc.Name, SchemaFilter: schemaFilterSet(dc.SchemaFilter)})
	}

	descriptor := model.FlowDescriptor{
		Name:           cfg.Name,
		ConnectorRef:   string(cfg.Source.Type),
		Destinations:   refs,
		BatchSize:      cfg.BatchSize,
		ErrorThreshold: cfg.ErrorThreshold,
		FlushInterval:  cfg.FlushInterval,
	}

	var transformer transform.EventTransformer
	if engine := transform.NewEngineFromStreamConfig(cfg.Transformation); engine != nil {
		transformer = engine
	}

	return New(Config{
		Descriptor:   descriptor,
		Connector:    conn,
		Destinations: destinations,
		Notifier:     n,
		Transformer:  transformer,
	})
}

func schemaFilterSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
