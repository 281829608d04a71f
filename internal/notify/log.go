package notify

import (
	"context"

	"studysync/internal/logging"
	"studysync/internal/models"

	"github.com/rs/zerolog"
)

// LogNotifier writes sync summaries to the structured log.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.Component(logger, "notify")}
}

func (n *LogNotifier) Summarize(_ context.Context, s models.SyncSummary) error {
	ev := n.logger.Info()
	if s.Failed > 0 {
		ev = n.logger.Warn()
	}
	ev.Int("synced", s.Synced).Int("failed", s.Failed).Time("at", s.At).Msg(Message(s))
	return nil
}
