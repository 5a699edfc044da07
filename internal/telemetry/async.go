package telemetry

import (
	"context"
	"time"

	"distrack/backend/internal/platform/async"
	"distrack/backend/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server stops before shutting down OTel providers,
// so in-flight async telemetry emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit on runner so the caller is not blocked. Errors and panics are logged by the runner.
//
// emitter and event may be nil; EmitAsync returns immediately without starting a goroutine.
// The task uses a background context with emitTimeout so request cancellation does not abort in-flight emit.
func EmitAsync(runner *async.Runner, emitter EventEmitter, event *domain.Event) {
	if runner == nil || emitter == nil || event == nil {
		return
	}
	runner.Go("telemetry."+event.Type, emitTimeout, func(ctx context.Context) error {
		return emitter.Emit(ctx, event)
	})
}
