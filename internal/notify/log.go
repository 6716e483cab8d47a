package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes events to a structured logger. It is the default when no
// broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, ev Event) {
	n.logger.InfoContext(ctx, "notification",
		"event_id", ev.ID.String(),
		"event_type", string(ev.Type),
		"recipient_id", ev.RecipientID.String(),
		"appointment_id", ev.Appointment.ID.String(),
		"start_time", ev.Appointment.StartTime,
		"status", string(ev.Status),
	)
}
