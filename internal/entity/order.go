package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Order is a unit of work published for claiming. Mutations go exclusively
// through the order service so the status and its audit ledger never diverge.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID                int64    `bun:",pk,autoincrement" json:"id"`
	Title             string   `bun:"title" json:"title"`
	Content           string   `bun:"content" json:"content"`
	Amount            *float64 `bun:"amount" json:"amount,omitempty"`
	ImagePath         *string  `bun:"image_path" json:"image_path,omitempty"`
	Status            Status   `bun:"status" json:"status"`
	CreatedBy         int64    `bun:"created_by" json:"created_by"`
	CreatedByUsername *string  `bun:"created_by_username" json:"created_by_username,omitempty"`
	ContactUsername   *string  `bun:"contact_username" json:"contact_username,omitempty"`
	ClaimedBy         *int64   `bun:"claimed_by" json:"claimed_by,omitempty"`
	ClaimedByUsername *string  `bun:"claimed_by_username" json:"claimed_by_username,omitempty"`

	// ChannelMessageID is the identifier of the announcement in the broadcast
	// channel; nil until the first successful publish.
	ChannelMessageID *int64 `bun:"channel_message_id" json:"channel_message_id,omitempty"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updated_at"`
}

// OrderStatusHistory is an append-only ledger entry. Exactly one row exists
// per status change, including creation, where FromStatus is nil.
type OrderStatusHistory struct {
	bun.BaseModel `bun:"table:order_status_history"`

	ID         int64     `bun:",pk,autoincrement" json:"id"`
	OrderID    int64     `bun:"order_id" json:"order_id"`
	FromStatus *Status   `bun:"from_status" json:"from_status,omitempty"`
	ToStatus   Status    `bun:"to_status" json:"to_status"`
	ActorID    int64     `bun:"actor_id" json:"actor_id"`
	Note       *string   `bun:"note" json:"note,omitempty"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// OrderApplication is a request to claim a NEW order. Rows are never deleted;
// the status field encodes the review outcome.
type OrderApplication struct {
	bun.BaseModel `bun:"table:order_applications"`

	ID                int64             `bun:",pk,autoincrement" json:"id"`
	OrderID           int64             `bun:"order_id" json:"order_id"`
	ApplicantID       int64             `bun:"applicant_id" json:"applicant_id"`
	ApplicantUsername *string           `bun:"applicant_username" json:"applicant_username,omitempty"`
	Status            ApplicationStatus `bun:"status" json:"status"`
	CreatedAt         time.Time         `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time         `bun:"updated_at,nullzero" json:"updated_at"`
}
