package channel

import (
	"strconv"
	"strings"

	"github.com/orderdeck/orderdeck/internal/entity"
)

// statusLabels maps lifecycle states to the badge shown in the channel.
var statusLabels = map[entity.Status]string{
	entity.StatusDraft:      "Draft",
	entity.StatusNew:        "Open",
	entity.StatusClaimed:    "Claimed",
	entity.StatusInProgress: "In progress",
	entity.StatusDone:       "Done",
	entity.StatusCanceled:   "Canceled",
}

// renderOrder builds the announcement text: title, body, optional amount,
// order number, and the current status badge.
func renderOrder(order *entity.Order) string {
	var b strings.Builder

	b.WriteString("📋 ")
	b.WriteString(order.Title)
	b.WriteString("\n\n")
	b.WriteString(order.Content)

	if order.Amount != nil {
		b.WriteString("\n\n💰 Amount: ")
		b.WriteString(strconv.FormatFloat(*order.Amount, 'f', -1, 64))
	}

	b.WriteString("\n\n🆔 Order #")
	b.WriteString(strconv.FormatInt(order.ID, 10))

	if label, ok := statusLabels[order.Status]; ok {
		b.WriteString("\n📌 Status: ")
		b.WriteString(label)
	}

	return b.String()
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
