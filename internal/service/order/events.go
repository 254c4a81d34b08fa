package order

import (
	"time"

	"github.com/orderdeck/orderdeck/internal/entity"
)

// StatusEvent is emitted on the bus after every committed status change,
// including creation (FromStatus nil). Consumers use it to reconcile the
// channel announcement with the stored order state.
type StatusEvent struct {
	OrderID    int64          `json:"order_id"`
	FromStatus *entity.Status `json:"from_status,omitempty"`
	ToStatus   entity.Status  `json:"to_status"`
	ActorID    int64          `json:"actor_id"`
	OccurredAt time.Time      `json:"occurred_at"`
}
