package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCreatePayload_Validate(t *testing.T) {
	item := PayloadItem{MenuItemID: "burger", Name: "Burger", Quantity: 1, UnitPrice: 9.5}

	cases := []struct {
		name    string
		payload CreatePayload
		want    error
	}{
		{"takeout ok", CreatePayload{OrderType: "takeout", Items: []PayloadItem{item}}, nil},
		{"no items", CreatePayload{OrderType: "takeout"}, ErrNoItems},
		{"zero quantity", CreatePayload{OrderType: "takeout", Items: []PayloadItem{{MenuItemID: "x"}}}, ErrInvalidQuantity},
		{"missing menu item", CreatePayload{OrderType: "takeout", Items: []PayloadItem{{Quantity: 1}}}, ErrMissingMenuItem},
		{"unknown dining option", CreatePayload{OrderType: "drone", Items: []PayloadItem{item}}, ErrUnknownDiningOption},
		{"dine-in without table", CreatePayload{OrderType: "dine-in", Items: []PayloadItem{item}}, ErrMissingTable},
		{"dine-in with table", CreatePayload{OrderType: "dine-in", TableNumber: "7", Items: []PayloadItem{item}}, nil},
		{"delivery without address", CreatePayload{OrderType: "delivery", Items: []PayloadItem{item}}, ErrMissingAddress},
		{"delivery ok", CreatePayload{OrderType: "delivery", DeliveryInfo: &PayloadDelivery{Address: "1 Main"}, Items: []PayloadItem{item}}, nil},
		{"curbside without vehicle", CreatePayload{OrderType: "curbside", CurbsideInfo: &PayloadCurbside{}, Items: []PayloadItem{item}}, ErrMissingVehicle},
		{"catering without headcount", CreatePayload{OrderType: "catering", CateringInfo: &PayloadCatering{EventDate: time.Now()}, Items: []PayloadItem{item}}, ErrMissingCateringEvent},
		{"catering ok", CreatePayload{OrderType: "catering", CateringInfo: &PayloadCatering{EventDate: time.Now(), Headcount: 20}, Items: []PayloadItem{item}}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate()
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreatePayload_DiningOption(t *testing.T) {
	p := CreatePayload{OrderType: "curbside", CurbsideInfo: &PayloadCurbside{VehicleDescription: "blue car"}}
	opt := p.DiningOption()

	assert.Equal(t, DiningCurbside, opt.Type)
	assert.Equal(t, "Curbside", opt.Name)
	assert.Equal(t, "blue car", opt.Curbside.VehicleDescription)
}
