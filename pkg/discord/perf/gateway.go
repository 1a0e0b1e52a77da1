package perf

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/log"
	"github.com/small-frappuccino/discordsync/pkg/util"
)

const (
	envGatewayPerfThresholdMs     = "DISCORDSYNC_GATEWAY_PERF_THRESHOLD_MS"
	defaultGatewayPerfThresholdMs = int64(200)
)

var (
	defaultTrackerOnce sync.Once
	defaultTracker     *Tracker
)

// Tracker logs gateway handlers slower than its threshold. A threshold <= 0
// disables it.
type Tracker struct {
	threshold time.Duration
	slow      atomic.Uint64
}

func NewTracker(threshold time.Duration) *Tracker {
	return &Tracker{threshold: threshold}
}

// Default returns the process-wide tracker configured from
// DISCORDSYNC_GATEWAY_PERF_THRESHOLD_MS.
func Default() *Tracker {
	defaultTrackerOnce.Do(func() {
		ms := util.EnvInt64(envGatewayPerfThresholdMs, defaultGatewayPerfThresholdMs)
		if ms <= 0 {
			defaultTracker = NewTracker(0)
			return
		}
		defaultTracker = NewTracker(time.Duration(ms) * time.Millisecond)
	})
	return defaultTracker
}

func (t *Tracker) Threshold() time.Duration {
	if t == nil {
		return 0
	}
	return t.threshold
}

// Slow is the number of handlers that crossed the threshold.
func (t *Tracker) Slow() uint64 {
	if t == nil {
		return 0
	}
	return t.slow.Load()
}

// StartGatewayEvent tracks how long a gateway handler takes and logs only when slow.
func (t *Tracker) StartGatewayEvent(event string, attrs ...slog.Attr) func() {
	if t == nil || t.threshold <= 0 {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		if duration < t.threshold {
			return
		}
		t.slow.Add(1)
		name := strings.TrimSpace(event)
		if name == "" {
			name = "unknown"
		}
		payload := make([]slog.Attr, 0, len(attrs)+3)
		payload = append(payload, slog.String("event", name))
		payload = append(payload, slog.Duration("duration", duration))
		payload = append(payload, slog.Int64("duration_ms", duration.Milliseconds()))
		payload = append(payload, attrs...)
		args := make([]any, 0, len(payload))
		for _, attr := range payload {
			args = append(args, attr)
		}
		log.DiscordLogger().Warn("slow gateway event handler", args...)
	}
}

// StartGatewayEvent uses the Default tracker.
// Set DISCORDSYNC_GATEWAY_PERF_THRESHOLD_MS to 0 to disable.
func StartGatewayEvent(event string, attrs ...slog.Attr) func() {
	return Default().StartGatewayEvent(event, attrs...)
}
