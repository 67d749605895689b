package models

import (
	"fmt"
	"strings"
)

// AppMode selects which Feedback Store a client submits to.
type AppMode string

const (
	AppModeTraditional  AppMode = "traditional"
	AppModeSyncOnly     AppMode = "sync_only"
	AppModeHybrid       AppMode = "hybrid"
	AppModeOfflineFirst AppMode = "offline_first"
)

func ParseAppMode(s string) (AppMode, error) {
	switch m := AppMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return AppModeTraditional, nil
	case AppModeTraditional, AppModeSyncOnly, AppModeHybrid, AppModeOfflineFirst:
		return m, nil
	case "jazz_only":
		// старое имя режима из первых версий
		return AppModeSyncOnly, nil
	default:
		return "", fmt.Errorf("unknown app mode %q", s)
	}
}

func (m AppMode) UsesReplica() bool {
	return m == AppModeSyncOnly || m == AppModeHybrid || m == AppModeOfflineFirst
}

func (m AppMode) UsesRemote() bool {
	return m != AppModeSyncOnly
}
