package events

import (
	"context"

	"finboard/internal/log"
)

// Refresher is the part of the dashboard store events drive.
type Refresher interface {
	Invalidate()
	ScheduleRefresh()
}

// RefreshHandler drops cached dashboards and schedules a refresh whenever a
// transaction changes.
type RefreshHandler struct {
	store  Refresher
	logger *log.Logger
}

var _ Handler = (*RefreshHandler)(nil)

func NewRefreshHandler(store Refresher, logger *log.Logger) *RefreshHandler {
	if logger == nil {
		logger = log.Discard()
	}
	return &RefreshHandler{store: store, logger: logger.WithComponent(log.ComponentEvents)}
}

func (h *RefreshHandler) HandleTransactionEvent(ctx context.Context, ev *TransactionEvent) error {
	h.store.Invalidate()
	h.store.ScheduleRefresh()
	h.logger.WithContextFields(ctx).Info("Dashboard refresh scheduled",
		log.FieldEventKind, ev.Kind,
		log.FieldTransactionID, ev.TransactionID,
	)
	return nil
}
