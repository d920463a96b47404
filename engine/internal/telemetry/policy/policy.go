package policy

// INTERNAL: telemetry policy (moved in C6 step 2b). Public access now via engine.Policy()/UpdateTelemetryPolicy().

import "time"

// TelemetryPolicy centralizes runtime-tunable telemetry knobs. It is designed to be
// swapped atomically (callers hold an immutable snapshot pointer) to avoid locks
// on hot paths. All durations are expected to be positive; zero values fall back
// to defaults established in Default().
type TelemetryPolicy struct {
    Health  HealthPolicy
    Tracing TracingPolicy
    Events  EventBusPolicy
}

type HealthPolicy struct {
    ProbeTTL time.Duration
    // LoopMinCycles is the minimum number of completed cycles observed before
    // the loop-cadence probe judges overrun ratio at all (spec §4.7 cycle
    // cadence / overrun logging).
    LoopMinCycles          int
    LoopDegradedOverrunRatio  float64
    LoopUnhealthyOverrunRatio float64
    // RollbackDegradedCount/RollbackUnhealthyCount are the number of
    // rollbacks within the loop's recent-cycle window (loopctl
    // Metrics.RecentRollbacks) at or above which the rollback probe reports
    // degraded/unhealthy.
    RollbackDegradedCount  int
    RollbackUnhealthyCount int
}

type TracingPolicy struct {
    SamplePercent          float64
    ErrorBoostPercent      float64
    LatencyBoostThresholdMs int64
    LatencyBoostPercent    float64
}

type EventBusPolicy struct {
    MaxSubscriberBuffer int
}

// Default returns a TelemetryPolicy populated with the current heuristics previously
// hard-coded in engine.go (Iteration 4). Adjust carefully; downstream alerting may
// assume these semantics.
func Default() TelemetryPolicy {
    return TelemetryPolicy{
        Health: HealthPolicy{
            ProbeTTL:                  2 * time.Second,
            LoopMinCycles:             10,
            LoopDegradedOverrunRatio:  0.50,
            LoopUnhealthyOverrunRatio: 0.80,
            RollbackDegradedCount:     1,
            RollbackUnhealthyCount:    2,
        },
        Tracing: TracingPolicy{SamplePercent: 20},
        Events:  EventBusPolicy{MaxSubscriberBuffer: 1024},
    }
}

// Normalize ensures sane bounds without mutating original; returns a cleaned copy.
func (p TelemetryPolicy) Normalize() TelemetryPolicy {
    c := p
    if c.Health.ProbeTTL <= 0 { c.Health.ProbeTTL = 2 * time.Second }
    if c.Health.LoopMinCycles <= 0 { c.Health.LoopMinCycles = 10 }
    if c.Health.LoopDegradedOverrunRatio <= 0 { c.Health.LoopDegradedOverrunRatio = 0.50 }
    if c.Health.LoopUnhealthyOverrunRatio <= 0 { c.Health.LoopUnhealthyOverrunRatio = 0.80 }
    if c.Health.RollbackDegradedCount <= 0 { c.Health.RollbackDegradedCount = 1 }
    if c.Health.RollbackUnhealthyCount <= 0 { c.Health.RollbackUnhealthyCount = 2 }
    if c.Tracing.SamplePercent < 0 { c.Tracing.SamplePercent = 0 }
    if c.Tracing.SamplePercent > 100 { c.Tracing.SamplePercent = 100 }
    if c.Events.MaxSubscriberBuffer <= 0 { c.Events.MaxSubscriberBuffer = 1024 }
    return c
}

