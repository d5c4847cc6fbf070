package order

import (
	"time"
)

// CreatePayload is the body of POST /orders. Field names follow the backend.
type CreatePayload struct {
	OrderType           string           `json:"orderType"`
	Items               []PayloadItem    `json:"items"`
	TableID             string           `json:"tableId,omitempty"`
	TableNumber         string           `json:"tableNumber,omitempty"`
	Customer            *PayloadCustomer `json:"customer,omitempty"`
	SpecialInstructions string           `json:"specialInstructions,omitempty"`
	SourceDeviceID      string           `json:"sourceDeviceId,omitempty"`

	DeliveryInfo *PayloadDelivery `json:"deliveryInfo,omitempty"`
	CurbsideInfo *PayloadCurbside `json:"curbsideInfo,omitempty"`
	CateringInfo *PayloadCatering `json:"cateringInfo,omitempty"`
}

type PayloadItem struct {
	MenuItemID          string            `json:"menuItemId"`
	Name                string            `json:"name"`
	Quantity            int               `json:"quantity"`
	UnitPrice           float64           `json:"unitPrice"`
	Modifiers           []PayloadModifier `json:"modifiers,omitempty"`
	SpecialInstructions string            `json:"specialInstructions,omitempty"`
	CourseID            string            `json:"courseGuid,omitempty"`
}

type PayloadModifier struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	PriceAdjustment float64 `json:"priceAdjustment"`
}

type PayloadCustomer struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type PayloadDelivery struct {
	Address      string `json:"address"`
	Instructions string `json:"instructions,omitempty"`
}

type PayloadCurbside struct {
	VehicleDescription string `json:"vehicleDescription"`
}

type PayloadCatering struct {
	EventDate time.Time `json:"eventDate"`
	Headcount int       `json:"headcount"`
}

// Validate rejects a payload before any network call is made.
func (p *CreatePayload) Validate() error {
	if len(p.Items) == 0 {
		return ErrNoItems
	}
	for _, it := range p.Items {
		if it.MenuItemID == "" {
			return ErrMissingMenuItem
		}
		if it.Quantity <= 0 {
			return ErrInvalidQuantity
		}
	}

	typ, ok := ParseDiningOptionType(p.OrderType)
	if !ok {
		return ErrUnknownDiningOption
	}
	switch typ {
	case DiningDineIn:
		if p.TableID == "" && p.TableNumber == "" {
			return ErrMissingTable
		}
	case DiningDelivery:
		if p.DeliveryInfo == nil || p.DeliveryInfo.Address == "" {
			return ErrMissingAddress
		}
	case DiningCurbside:
		if p.CurbsideInfo == nil || p.CurbsideInfo.VehicleDescription == "" {
			return ErrMissingVehicle
		}
	case DiningCatering:
		if p.CateringInfo == nil || p.CateringInfo.EventDate.IsZero() || p.CateringInfo.Headcount <= 0 {
			return ErrMissingCateringEvent
		}
	}
	return nil
}

// DiningOption builds the normalized dining option a payload describes.
func (p *CreatePayload) DiningOption() DiningOption {
	typ, ok := ParseDiningOptionType(p.OrderType)
	if !ok {
		typ = DiningTakeout
	}
	opt := DiningOption{
		Type:        typ,
		Name:        diningNames[typ],
		TableID:     p.TableID,
		TableNumber: p.TableNumber,
	}
	switch typ {
	case DiningDelivery:
		if p.DeliveryInfo != nil {
			opt.Delivery = &DeliveryInfo{Address: p.DeliveryInfo.Address, Instructions: p.DeliveryInfo.Instructions}
		}
	case DiningCurbside:
		if p.CurbsideInfo != nil {
			opt.Curbside = &CurbsideInfo{VehicleDescription: p.CurbsideInfo.VehicleDescription}
		}
	case DiningCatering:
		if p.CateringInfo != nil {
			opt.Catering = &CateringInfo{EventDate: p.CateringInfo.EventDate, Headcount: p.CateringInfo.Headcount}
		}
	}
	return opt
}
