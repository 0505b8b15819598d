package notifier

import (
	"log/slog"
)

type SLogNotifier struct {
	Logger *slog.Logger
}

var _ Notifier = &SLogNotifier{}

func (s SLogNotifier) Notify(event Event) {
	s.Logger.Info(event.title(), "reason", event.Reason)
}
