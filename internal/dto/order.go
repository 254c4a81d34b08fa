package dto

import (
	"time"

	"github.com/orderdeck/orderdeck/internal/entity"
)

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID                int64     `json:"id"`
	Title             string    `json:"title"`
	Content           string    `json:"content"`
	Amount            *float64  `json:"amount,omitempty"`
	Status            string    `json:"status"`
	CreatedBy         int64     `json:"created_by"`
	CreatedByUsername *string   `json:"created_by_username,omitempty"`
	ContactUsername   *string   `json:"contact_username,omitempty"`
	ClaimedBy         *int64    `json:"claimed_by,omitempty"`
	ClaimedByUsername *string   `json:"claimed_by_username,omitempty"`
	ChannelMessageID  *int64    `json:"channel_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HistoryResponse is one status ledger entry.
type HistoryResponse struct {
	ID         int64     `json:"id"`
	OrderID    int64     `json:"order_id"`
	FromStatus *string   `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	ActorID    int64     `json:"actor_id"`
	Note       *string   `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ApplicationResponse represents a claim application.
type ApplicationResponse struct {
	ID                int64     `json:"id"`
	OrderID           int64     `json:"order_id"`
	ApplicantID       int64     `json:"applicant_id"`
	ApplicantUsername *string   `json:"applicant_username,omitempty"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// FromOrder maps an order entity into its transport representation.
func FromOrder(order *entity.Order) OrderResponse {
	return OrderResponse{
		ID:                order.ID,
		Title:             order.Title,
		Content:           order.Content,
		Amount:            order.Amount,
		Status:            order.Status.String(),
		CreatedBy:         order.CreatedBy,
		CreatedByUsername: order.CreatedByUsername,
		ContactUsername:   order.ContactUsername,
		ClaimedBy:         order.ClaimedBy,
		ClaimedByUsername: order.ClaimedByUsername,
		ChannelMessageID:  order.ChannelMessageID,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

// FromHistory maps a ledger entry into its transport representation.
func FromHistory(h entity.OrderStatusHistory) HistoryResponse {
	var from *string
	if h.FromStatus != nil {
		v := h.FromStatus.String()
		from = &v
	}
	return HistoryResponse{
		ID:         h.ID,
		OrderID:    h.OrderID,
		FromStatus: from,
		ToStatus:   h.ToStatus.String(),
		ActorID:    h.ActorID,
		Note:       h.Note,
		CreatedAt:  h.CreatedAt,
	}
}

// FromApplication maps an application into its transport representation.
func FromApplication(a entity.OrderApplication) ApplicationResponse {
	return ApplicationResponse{
		ID:                a.ID,
		OrderID:           a.OrderID,
		ApplicantID:       a.ApplicantID,
		ApplicantUsername: a.ApplicantUsername,
		Status:            a.Status.String(),
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}
