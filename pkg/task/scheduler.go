package task

import (
	"sync"
	"time"
)

// Cancel stops a scheduled job.
type Cancel func()

// ScheduleDailyAtUTC dispatches t at the next hour:minute:00 UTC and then every 24 hours.
func (tr *TaskRouter) ScheduleDailyAtUTC(hour, minute int, t Task) Cancel {
	return tr.ScheduleEveryNDaysAtUTC(1, hour, minute, 0, t)
}

// ScheduleEveryNDaysAtUTC dispatches t at the next hour:minute:second UTC and
// then every n days. n <= 0 means daily; out of range clock values are clamped.
//
// The returned Cancel stops the pending first run as well as the repeating job.
func (tr *TaskRouter) ScheduleEveryNDaysAtUTC(n, hour, minute, second int, t Task) Cancel {
	if n <= 0 {
		n = 1
	}
	hour = clampInt(hour, 0, 23)
	minute = clampInt(minute, 0, 59)
	second = clampInt(second, 0, 59)
	interval := time.Duration(n) * 24 * time.Hour

	tr.mu.Lock()
	if tr.closed {
		tr.mu.Unlock()
		return func() {}
	}
	tr.wg.Add(1)
	tr.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }

	go func() {
		defer tr.wg.Done()
		timer := time.NewTimer(time.Until(nextRunUTC(time.Now(), hour, minute, second, interval)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-stop:
			return
		case <-tr.ctx.Done():
			return
		}

		_ = tr.Dispatch(tr.ctx, t)
		repeat := tr.ScheduleEvery(interval, t)
		defer repeat()
		select {
		case <-stop:
		case <-tr.ctx.Done():
		}
	}()
	return cancel
}

// nextRunUTC returns today's hour:minute:second in UTC, or that time one
// interval later when it is not strictly in the future.
func nextRunUTC(from time.Time, hour, minute, second int, interval time.Duration) time.Time {
	from = from.UTC()
	target := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, second, 0, time.UTC)
	if !from.Before(target) {
		target = target.Add(interval)
	}
	return target
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
