package alert

import "go.uber.org/zap"

// LogNotifier writes notifications to the structured log. It is the default
// sink when no external channel is configured.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(notification Notification) {
	n.logger.Infow("notification",
		"kind", notification.Kind,
		"pair", notification.Pair,
		"message", notification.Message,
	)
}
