package events

import (
	"sync"

	"github.com/small-frappuccino/discordsync/pkg/errutil"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

// Listener receives the payload of one event.
type Listener func(payload any)

type registration struct {
	id uint64
	fn Listener
}

// Emitter delivers events to listeners synchronously, in registration order.
// A panicking listener is reported as an Error event and does not stop the
// remaining listeners.
type Emitter struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[string][]registration
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]registration)}
}

// On registers fn for name and returns a function that removes it.
func (e *Emitter) On(name string, fn Listener) (off func()) {
	e.mu.Lock()
	e.next++
	id := e.next
	e.listeners[name] = append(e.listeners[name], registration{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			regs := e.listeners[name]
			for i, r := range regs {
				if r.id == id {
					e.listeners[name] = append(regs[:i:i], regs[i+1:]...)
					break
				}
			}
			if len(e.listeners[name]) == 0 {
				delete(e.listeners, name)
			}
		})
	}
}

// ListenerCount returns how many listeners name has.
func (e *Emitter) ListenerCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}

// Emit calls every listener of name and returns how many were called.
func (e *Emitter) Emit(name string, payload any) int {
	e.mu.RLock()
	regs := append([]registration(nil), e.listeners[name]...)
	e.mu.RUnlock()

	for _, r := range regs {
		fn := r.fn
		err := errutil.RunSafely("listener "+name, func() error {
			fn(payload)
			return nil
		})
		if err == nil {
			continue
		}
		if name == Error {
			log.ErrorLoggerRaw().Error("Error listener failed", "error", err)
			continue
		}
		if e.Emit(Error, ErrorPayload{Err: err, Tag: name}) == 0 {
			log.ErrorLoggerRaw().Error("Event listener failed", "event", name, "error", err)
		}
	}
	return len(regs)
}
