/*
Package telemetry connects the agent registry to OpenTelemetry.

Provider implements core.Telemetry. Each registry lifecycle hook
(OnEnable, OnDisable, OnHostReload, Close) becomes a span carrying the
generation, active count and failure count, and every membership change
increments a counter such as agenttrack.registry.registrations.

Usage:

	provider, err := telemetry.NewProvider(ctx, cfg.Telemetry, cfg.ServiceName(),
	    telemetry.WithGlobal(),
	)
	if err != nil {
	    return err
	}
	defer provider.Shutdown(context.Background())

	registry := core.NewRegistry(core.WithRegistryTelemetry(provider))

Tests can attach a tracetest.SpanRecorder with WithSpanProcessor and a
ManualReader with WithMetricReader, using the "none" exporter.
*/
package telemetry
