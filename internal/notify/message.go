package notify

import (
	"fmt"

	"studysync/internal/models"
)

// Message renders the user-facing text for a summary.
func Message(s models.SyncSummary) string {
	switch {
	case s.Failed == 0:
		return fmt.Sprintf("Synced %d offline %s", s.Synced, plural(s.Synced, "action", "actions"))
	case s.Synced == 0:
		return fmt.Sprintf("%d %s could not be synced", s.Failed, plural(s.Failed, "action", "actions"))
	default:
		return fmt.Sprintf("Synced %d offline %s, %d failed",
			s.Synced, plural(s.Synced, "action", "actions"), s.Failed)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
