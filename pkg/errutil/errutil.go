package errutil

import (
	"fmt"

	"github.com/small-frappuccino/discordsync/pkg/log"
)

// Small helpers shared by the REST managers, the dispatch pipeline and the app runner:
// - HandleDiscordError(operation string, fn func() error) error
// - HandleConfigError(operation, path string, fn func() error) error
// - RunSafely(scope string, fn func() error) error

// HandleDiscordError executes fn and logs any error that occurs as a Discord-related error.
// It returns whatever error fn returns (unmodified), after logging it.
func HandleDiscordError(operation string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}

	err := fn()
	if err == nil {
		return nil
	}

	log.DiscordLogger().Error("Discord operation failed", "operation", operation, "error", err)
	return err
}

// HandleConfigError executes fn and logs any error that occurs as a configuration-related error.
// It returns a wrapped error with context about the operation and path.
func HandleConfigError(operation, path string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}

	err := fn()
	if err == nil {
		return nil
	}

	log.ApplicationLogger().Error("Config operation failed", "operation", operation, "path", path, "error", err)
	return fmt.Errorf("config %s %s: %w", operation, path, err)
}

// RunSafely executes fn and converts panics into returned errors tagged with scope.
// It is used at handler and listener boundaries so one failure cannot take the process down.
func RunSafely(scope string, fn func() error) (err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		if e, ok := recovered.(error); ok {
			err = fmt.Errorf("%s: panic recovered: %w", scope, e)
			return
		}
		err = fmt.Errorf("%s: panic recovered: %v", scope, recovered)
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}
	return nil
}
