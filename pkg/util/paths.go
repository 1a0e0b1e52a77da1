package util

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the per-user state directory for appName (~/.cache/<app> on unix).
// Callers create it as needed.
func DataDir(appName string) string {
	base, err := os.UserCacheDir()
	if err != nil || strings.TrimSpace(base) == "" {
		base = "."
	}
	return filepath.Join(base, sanitizeAppNameForPath(appName))
}

// sanitizeAppNameForPath normalizes an application name so it is safe as a single
// directory segment.
func sanitizeAppNameForPath(name string) string {
	n := strings.TrimSpace(name)
	n = strings.ReplaceAll(n, "/", "-")
	n = strings.ReplaceAll(n, "\\", "-")
	n = strings.ReplaceAll(n, "\x00", "")
	n = strings.TrimSpace(n)
	if n == "" {
		return "discordsync"
	}
	return n
}
