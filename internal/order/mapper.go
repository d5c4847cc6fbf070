package order

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// record is a decoded backend object. Accessors take every spelling a field
// has had across backend versions and return the first one present.
type record map[string]any

func (r record) str(keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func (r record) num(keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := r[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// amount reads a currency value without going through binary floats for
// string inputs.
func (r record) amount(keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		switch v := r[k].(type) {
		case float64:
			return decimal.NewFromFloat(v), true
		case string:
			if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

func (r record) money(keys ...string) Money {
	d, _ := r.amount(keys...)
	return toMoney(d)
}

func (r record) time(keys ...string) *time.Time {
	for _, k := range keys {
		if t, ok := parseTime(r[k]); ok {
			return &t
		}
	}
	return nil
}

func (r record) obj(keys ...string) record {
	for _, k := range keys {
		if m, ok := r[k].(map[string]any); ok {
			return record(m)
		}
	}
	return nil
}

func (r record) list(keys ...string) []record {
	for _, k := range keys {
		items, ok := r[k].([]any)
		if !ok {
			continue
		}
		out := make([]record, 0, len(items))
		for _, it := range items {
			if m, ok := it.(map[string]any); ok {
				out = append(out, record(m))
			}
		}
		return out
	}
	return nil
}

// toMoney rounds half away from zero to whole cents.
func toMoney(d decimal.Decimal) Money {
	return Money(d.Shift(2).Round(0).IntPart())
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
	case float64:
		// epoch milliseconds
		return time.UnixMilli(int64(t)).UTC(), true
	}
	return time.Time{}, false
}

// MapOrder normalizes a raw backend order record into an Order. It has no
// side effects: mapping the same bytes twice yields equal values.
func MapOrder(raw []byte) (*Order, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyRecord
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode order record: %w", err)
	}
	if r == nil {
		return nil, ErrEmptyRecord
	}
	return mapRecord(r)
}

func mapRecord(r record) (*Order, error) {
	id := r.str("guid", "id", "_id", "order_id")
	if id == "" {
		return nil, ErrMissingID
	}

	backendStatus := r.str("guestOrderStatus", "status", "order_status")
	if backendStatus == "" {
		backendStatus = backendPending
	}
	status, err := StatusFromBackend(backendStatus)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", id, err)
	}

	o := &Order{
		ID:             id,
		RestaurantID:   r.str("restaurantId", "restaurant_id"),
		OrderNumber:    r.str("orderNumber", "order_number", "displayNumber"),
		Status:         status,
		PaymentStatus:  r.str("paymentStatus", "payment_status"),
		Instructions:   r.str("specialInstructions", "special_instructions", "notes"),
		SourceDeviceID: r.str("sourceDeviceId", "source_device_id"),
		Timestamps:     mapTimestamps(r),
	}

	if c := r.obj("customer"); c != nil {
		o.Customer = &Customer{
			Name:    c.str("name"),
			Email:   c.str("email"),
			Phone:   c.str("phone"),
			Address: c.str("address"),
		}
	}

	o.DiningOption = mapDiningOption(r, o.Customer)
	o.Courses = mapCourses(r)

	defaultFulfillment := FulfillmentNew
	if sentOnArrival(backendStatus) {
		defaultFulfillment = FulfillmentSent
	}

	if checks := r.list("checks"); len(checks) > 0 {
		for i, c := range checks {
			o.Checks = append(o.Checks, mapCheck(c, fmt.Sprintf("%s-check-%d", id, i+1), defaultFulfillment))
		}
	} else {
		o.Checks = []Check{syntheticCheck(r, id, defaultFulfillment)}
	}

	if len(o.Courses) == 0 {
		o.Courses = coursesFromSelections(r)
	}

	o.RecomputeTotals()
	return o, nil
}

func mapTimestamps(r record) Timestamps {
	ts := Timestamps{
		ConfirmedAt: r.time("confirmedAt", "confirmed_at", "confirmedDate"),
		PrepStartAt: r.time("prepStartAt", "prep_start_at", "prepStartDate", "preparingAt", "preparing_at"),
		ReadyAt:     r.time("readyAt", "ready_at", "readyDate"),
		ClosedAt:    r.time("closedAt", "closed_at", "completedAt", "completed_at"),
		VoidedAt:    r.time("voidedAt", "voided_at", "cancelledAt", "cancelled_at"),
	}
	if t := r.time("createdAt", "created_at", "createdDate"); t != nil {
		ts.CreatedAt = *t
	}
	ts.LastModifiedAt = ts.CreatedAt
	if t := r.time("lastModifiedAt", "last_modified_at", "updatedAt", "updated_at"); t != nil {
		ts.LastModifiedAt = *t
	}
	return ts
}

var diningNames = map[DiningOptionType]string{
	DiningDineIn:   "Dine In",
	DiningTakeout:  "Takeout",
	DiningDelivery: "Delivery",
	DiningCurbside: "Curbside",
	DiningCatering: "Catering",
}

// ParseDiningOptionType accepts current and legacy spellings.
func ParseDiningOptionType(s string) (DiningOptionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dine-in", "dine_in", "dinein":
		return DiningDineIn, true
	case "takeout", "take-out", "pickup":
		return DiningTakeout, true
	case "delivery":
		return DiningDelivery, true
	case "curbside":
		return DiningCurbside, true
	case "catering":
		return DiningCatering, true
	}
	return "", false
}

func mapDiningOption(r record, customer *Customer) DiningOption {
	raw := r.str("orderType", "order_type", "diningOptionType")
	name := ""
	if d := r.obj("diningOption", "dining_option"); d != nil {
		if t := d.str("type", "behavior"); t != "" {
			raw = t
		}
		name = d.str("name")
	}

	typ, ok := ParseDiningOptionType(raw)
	if !ok {
		typ = DiningTakeout
	}
	if name == "" {
		name = diningNames[typ]
	}

	opt := DiningOption{
		Type:        typ,
		Name:        name,
		TableID:     r.str("tableId", "table_id", "tableGuid"),
		TableNumber: r.str("tableNumber", "table_number"),
	}

	switch typ {
	case DiningDelivery:
		opt.Delivery = mapDelivery(r, customer)
	case DiningCurbside:
		opt.Curbside = mapCurbside(r)
	case DiningCatering:
		opt.Catering = mapCatering(r)
	}
	return opt
}

func mapDelivery(r record, customer *Customer) *DeliveryInfo {
	if d := r.obj("deliveryInfo", "delivery_info"); d != nil {
		return &DeliveryInfo{
			Address:        d.str("address", "deliveryAddress"),
			Instructions:   d.str("instructions", "deliveryInstructions"),
			DeliveryStatus: d.str("deliveryStatus", "delivery_status", "status"),
			EstimatedAt:    d.time("estimatedDeliveryAt", "estimated_delivery_at", "estimatedAt"),
		}
	}
	info := &DeliveryInfo{
		Address:        r.str("deliveryAddress", "delivery_address"),
		Instructions:   r.str("deliveryInstructions", "delivery_instructions"),
		DeliveryStatus: r.str("deliveryStatus", "delivery_status"),
		EstimatedAt:    r.time("estimatedDeliveryAt", "estimated_delivery_at"),
	}
	if info.Address == "" && customer != nil {
		info.Address = customer.Address
	}
	return info
}

func mapCurbside(r record) *CurbsideInfo {
	src := r
	if c := r.obj("curbsideInfo", "curbside_info"); c != nil {
		src = c
	}
	return &CurbsideInfo{
		VehicleDescription: src.str("vehicleDescription", "vehicle_description", "vehicle"),
		ArrivedAt:          src.time("arrivedAt", "arrived_at", "arrivalNotifiedAt"),
	}
}

func mapCatering(r record) *CateringInfo {
	src := r
	if c := r.obj("cateringInfo", "catering_info"); c != nil {
		src = c
	}
	info := &CateringInfo{
		ApprovalStatus: src.str("approvalStatus", "approval_status"),
	}
	if t := src.time("eventDate", "event_date"); t != nil {
		info.EventDate = *t
	}
	if n, ok := src.num("headcount", "head_count", "guestCount"); ok {
		info.Headcount = int(n)
	}
	return info
}

func mapCourses(r record) []Course {
	items := r.list("courses")
	if len(items) == 0 {
		return nil
	}
	out := make([]Course, 0, len(items))
	for _, c := range items {
		out = append(out, mapCourse(c))
	}
	sortCourses(out)
	return out
}

func mapCourse(c record) Course {
	sortOrder, _ := c.num("sortOrder", "sort_order")
	fire := FireStatus(strings.ToUpper(c.str("fireStatus", "fire_status")))
	switch fire {
	case FirePending, FireFired, FireReady:
	default:
		fire = FirePending
	}
	return Course{
		ID:         c.str("guid", "id"),
		Name:       c.str("name"),
		SortOrder:  int(sortOrder),
		FireStatus: fire,
		FiredAt:    c.time("firedAt", "fired_at", "firedDate"),
	}
}

// coursesFromSelections collects course objects embedded in line items, for
// backends that do not send a top-level course list.
func coursesFromSelections(r record) []Course {
	seen := map[string]bool{}
	var out []Course
	collect := func(items []record) {
		for _, it := range items {
			c := it.obj("course")
			if c == nil {
				continue
			}
			course := mapCourse(c)
			if course.ID == "" || seen[course.ID] {
				continue
			}
			seen[course.ID] = true
			out = append(out, course)
		}
	}
	collect(r.list("items", "selections", "order_items"))
	for _, ch := range r.list("checks") {
		collect(ch.list("selections", "items"))
	}
	sortCourses(out)
	return out
}

func sortCourses(cs []Course) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].SortOrder < cs[j].SortOrder })
}

// syntheticCheck wraps every line item of a single-check backend record.
func syntheticCheck(r record, orderID string, def FulfillmentStatus) Check {
	c := Check{
		ID:          orderID + "-check-1",
		Subtotal:    r.money("subtotal", "sub_total"),
		TaxAmount:   r.money("tax", "taxAmount", "tax_amount"),
		TipAmount:   r.money("tip", "tipAmount", "tip_amount"),
		TotalAmount: r.money("total", "totalAmount", "total_amount"),
	}
	for _, it := range r.list("items", "selections", "order_items") {
		c.Selections = append(c.Selections, mapSelection(it, def))
	}
	if payments := r.list("payments"); len(payments) > 0 {
		c.Payments = mapPayments(payments)
	} else if method := r.str("paymentMethod", "payment_method"); method != "" {
		c.Payments = []Payment{{
			ID:     r.str("stripePaymentIntentId", "paymentIntentId"),
			Method: method,
			Status: r.str("paymentStatus", "payment_status"),
			Amount: c.TotalAmount,
		}}
	}
	fillCheckTotals(&c)
	return c
}

func mapCheck(r record, fallbackID string, def FulfillmentStatus) Check {
	c := Check{
		ID:          r.str("guid", "id"),
		Subtotal:    r.money("subtotal", "sub_total"),
		TaxAmount:   r.money("tax", "taxAmount", "tax_amount"),
		TipAmount:   r.money("tip", "tipAmount", "tip_amount"),
		TotalAmount: r.money("total", "totalAmount", "total_amount"),
		Payments:    mapPayments(r.list("payments")),
	}
	if c.ID == "" {
		c.ID = fallbackID
	}
	for _, it := range r.list("selections", "items") {
		c.Selections = append(c.Selections, mapSelection(it, def))
	}
	fillCheckTotals(&c)
	return c
}

// fillCheckTotals derives missing check financials from the line items.
func fillCheckTotals(c *Check) {
	if c.Subtotal == 0 {
		for _, s := range c.Selections {
			c.Subtotal += s.Total
		}
	}
	if c.TotalAmount == 0 {
		c.TotalAmount = c.Subtotal + c.TaxAmount + c.TipAmount
	}
}

func mapPayments(items []record) []Payment {
	if len(items) == 0 {
		return nil
	}
	out := make([]Payment, 0, len(items))
	for _, p := range items {
		out = append(out, Payment{
			ID:     p.str("guid", "id"),
			Method: p.str("method", "paymentMethod", "type"),
			Status: p.str("status", "paymentStatus"),
			Amount: p.money("amount", "total"),
		})
	}
	return out
}

func mapSelection(r record, def FulfillmentStatus) Selection {
	qty := 1
	if n, ok := r.num("quantity", "qty"); ok && n > 0 {
		qty = int(n)
	}

	s := Selection{
		ID:           r.str("guid", "id"),
		MenuItemID:   r.str("menuItemGuid", "menuItemId", "menu_item_id"),
		Name:         r.str("name", "displayName"),
		Quantity:     qty,
		UnitPrice:    r.money("unitPrice", "unit_price", "price"),
		Instructions: r.str("specialInstructions", "special_instructions"),
		CourseID:     r.str("courseGuid", "courseId", "course_id"),
	}
	if s.CourseID == "" {
		if c := r.obj("course"); c != nil {
			s.CourseID = c.str("guid", "id")
		}
	}

	var modTotal Money
	for _, m := range r.list("modifiers") {
		mod := Modifier{
			ID:              m.str("guid", "id"),
			Name:            m.str("name"),
			PriceAdjustment: m.money("priceAdjustment", "price_adjustment", "price"),
		}
		modTotal += mod.PriceAdjustment
		s.Modifiers = append(s.Modifiers, mod)
	}

	if _, ok := r.amount("totalPrice", "total_price", "total"); ok {
		s.Total = r.money("totalPrice", "total_price", "total")
	} else {
		s.Total = (s.UnitPrice + modTotal) * Money(qty)
	}

	switch fs := FulfillmentStatus(strings.ToUpper(r.str("fulfillmentStatus", "fulfillment_status"))); fs {
	case FulfillmentNew, FulfillmentHold, FulfillmentSent, FulfillmentOnTheFly:
		s.FulfillmentStatus = fs
	default:
		s.FulfillmentStatus = def
	}
	return s
}
