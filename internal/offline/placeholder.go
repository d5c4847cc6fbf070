package offline

import (
	"strconv"
	"strings"

	"orderstack-kds/internal/order"
)

// Placeholder builds the order shown for a queued entry: one synthetic check
// holding the submitted items, zeroed financials, Queued set.
func Placeholder(e QueuedOrder) *order.Order {
	p := e.Payload
	sels := make([]order.Selection, 0, len(p.Items))
	for i, it := range p.Items {
		sel := order.Selection{
			ID:                e.LocalID + "-sel-" + strconv.Itoa(i+1),
			MenuItemID:        it.MenuItemID,
			Name:              it.Name,
			Quantity:          it.Quantity,
			Instructions:      it.SpecialInstructions,
			FulfillmentStatus: order.FulfillmentNew,
			CourseID:          it.CourseID,
		}
		for _, m := range it.Modifiers {
			sel.Modifiers = append(sel.Modifiers, order.Modifier{ID: m.ID, Name: m.Name})
		}
		sels = append(sels, sel)
	}

	o := &order.Order{
		ID:             e.LocalID,
		RestaurantID:   e.RestaurantID,
		OrderNumber:    PlaceholderPrefix + shortID(e.LocalID),
		Status:         order.StatusReceived,
		DiningOption:   p.DiningOption(),
		Checks:         []order.Check{{ID: e.LocalID + "-check-1", Selections: sels}},
		Instructions:   p.SpecialInstructions,
		SourceDeviceID: p.SourceDeviceID,
		Timestamps: order.Timestamps{
			CreatedAt:      e.QueuedAt,
			LastModifiedAt: e.QueuedAt,
		},
		Queued: true,
	}
	if p.Customer != nil {
		o.Customer = &order.Customer{
			Name:    p.Customer.Name,
			Email:   p.Customer.Email,
			Phone:   p.Customer.Phone,
			Address: p.Customer.Address,
		}
	}
	return o
}

// IsPlaceholder reports whether o stands in for a queued order.
func IsPlaceholder(o *order.Order) bool {
	return o != nil && o.Queued && strings.HasPrefix(o.OrderNumber, PlaceholderPrefix)
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}
