package tui

import (
	"fmt"
	"strings"
)

// View types accepted by Run.
const (
	ViewInspectShape = "inspect_shape"
	ViewStatsSession = "stats_session"
)

// Run starts the appropriate TUI based on the view type.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	switch viewType {
	case ViewInspectShape:
		return RunInspectTUI(data)
	case ViewStatsSession:
		return RunStatsTUI(data)
	}
	return fmt.Errorf("unknown view type: %s", viewType)
}

// IsTUISupported returns true if the view type supports TUI mode.
// Only the read-only inspect and stats views do.
func IsTUISupported(viewType string) bool {
	for _, prefix := range []string{"inspect_", "stats_"} {
		if strings.HasPrefix(viewType, prefix) {
			return true
		}
	}
	return false
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewInspectShape, ViewStatsSession}
}
