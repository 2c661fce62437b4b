// Package observability exports guardkit resilience signals through
// OpenTelemetry metrics.
//
// Metrics:
//
//	mp, err := observability.InitMeter(ctx, observability.DefaultMeterConfig("my-service"))
//	defer mp.Shutdown(ctx)
//
//	listener, err := observability.NewListener(observability.Meter("my-service"))
//	exec, err := resilience.NewExecutor(policy, listener.ExecutorOptions()...)
//
// The listener counts admission rejections and circuit state transitions
// as they happen; RecordSnapshot mirrors the library's counter snapshot
// into gauges for periodic export.
//
// Health checks:
//
//	health := observability.NewServiceHealth("my-service", "1.0.0")
//	health.AddComponent(observability.ExecutorHealth("resilience", exec).CheckHealth(ctx))
package observability
