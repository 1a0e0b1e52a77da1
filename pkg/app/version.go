package app

import (
	"fmt"
	"strings"
	"sync"
)

// Version is the current version of the discordsync module.
const Version = "v0.1.0"

var (
	versionMu  sync.RWMutex
	appVersion string
)

// AppVersion is the version of the application embedding discordsync.
func AppVersion() string {
	versionMu.RLock()
	defer versionMu.RUnlock()
	return appVersion
}

// SetAppVersion sets the version of the application embedding discordsync.
func SetAppVersion(v string) {
	versionMu.Lock()
	appVersion = v
	versionMu.Unlock()
}

func formatStartupMessage(appName, appVersion, coreVersion string) string {
	appName = strings.TrimSpace(appName)
	appVersion = strings.TrimSpace(appVersion)
	coreVersion = strings.TrimSpace(coreVersion)

	switch {
	case appVersion == "":
		return fmt.Sprintf("🚀 Starting %s (discordsync %s)...", appName, coreVersion)
	case appVersion == coreVersion:
		return fmt.Sprintf("🚀 Starting %s %s...", appName, appVersion)
	default:
		return fmt.Sprintf("🚀 Starting %s %s (discordsync %s)...", appName, appVersion, coreVersion)
	}
}
