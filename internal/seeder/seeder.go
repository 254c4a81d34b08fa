package seeder

import (
	"context"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/orderdeck/orderdeck/internal/database"
	"github.com/orderdeck/orderdeck/internal/entity"
)

// Module wires the seeder into the Fx graph.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

// Orders seeds example orders with their initial history rows.
func (s *Seeder) Orders(ctx context.Context) error {
	now := time.Now().UTC()
	amount := 150.0
	samples := []entity.Order{
		{Title: "Translate landing page", Content: "EN -> DE, ~800 words", Status: entity.StatusNew, CreatedBy: 1, CreatedAt: now, UpdatedAt: now},
		{Title: "Logo refresh", Content: "Vector redraw of the current logo", Amount: &amount, Status: entity.StatusDraft, CreatedBy: 1, CreatedAt: now, UpdatedAt: now},
	}

	for i := range samples {
		order := samples[i]

		// Orders carry no natural unique key, so idempotency is an explicit
		// existence check on the sample's title and creator.
		exists, err := s.db.NewSelect().Model((*entity.Order)(nil)).
			Where("title = ?", order.Title).
			Where("created_by = ?", order.CreatedBy).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		if _, err := s.db.NewInsert().Model(&order).Exec(ctx); err != nil {
			return err
		}
		hist := entity.OrderStatusHistory{
			OrderID:   order.ID,
			ToStatus:  order.Status,
			ActorID:   order.CreatedBy,
			CreatedAt: now,
		}
		if _, err := s.db.NewInsert().Model(&hist).Exec(ctx); err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded orders", zap.Int("count", len(samples)))
	}
	return nil
}
