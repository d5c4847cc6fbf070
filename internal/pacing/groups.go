// Package pacing computes course fire timing for kitchen display cards.
package pacing

import (
	"fmt"
	"sort"
	"time"

	"orderstack-kds/internal/config"
	"orderstack-kds/internal/order"
)

type Mode string

const (
	ModeDisabled      Mode = "disabled"
	ModeServerFires   Mode = "server_fires"
	ModeAutoFireTimed Mode = "auto_fire_timed"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeDisabled, ModeServerFires, ModeAutoFireTimed:
		return true
	}
	return false
}

const immediateLabel = "Immediate"

type Settings struct {
	Mode               Mode
	DefaultPrepMinutes int
	AutoFireDelay      time.Duration
	// PrepTimeFiring staggers items inside a group by their fire delay.
	PrepTimeFiring bool
	// PrepTimes maps menu item id to prep minutes.
	PrepTimes map[string]int
}

func DefaultSettings() Settings {
	return Settings{
		Mode:               ModeDisabled,
		DefaultPrepMinutes: 10,
		AutoFireDelay:      300 * time.Second,
		PrepTimes:          map[string]int{},
	}
}

// FromConfig converts the YAML pacing block, falling back to defaults for
// missing or invalid values.
func FromConfig(p config.Pacing) (Settings, error) {
	s := DefaultSettings()
	if p.Mode != "" {
		s.Mode = Mode(p.Mode)
		if !s.Mode.Valid() {
			return s, fmt.Errorf("unknown pacing mode %q", p.Mode)
		}
	}
	if p.DefaultPrepMinutes > 0 {
		s.DefaultPrepMinutes = p.DefaultPrepMinutes
	}
	if p.AutoFireDelaySeconds > 0 {
		s.AutoFireDelay = time.Duration(p.AutoFireDelaySeconds) * time.Second
	}
	s.PrepTimeFiring = p.PrepTimeFiring
	for id, mins := range p.PrepTimes {
		s.PrepTimes[id] = mins
	}
	return s, nil
}

func (s Settings) prepFor(menuItemID string) time.Duration {
	if mins, ok := s.PrepTimes[menuItemID]; ok {
		return time.Duration(mins) * time.Minute
	}
	return time.Duration(s.DefaultPrepMinutes) * time.Minute
}

// FireDelays returns, for each prep time, how long that item waits so every
// item finishes together with the slowest one.
func FireDelays(prep []time.Duration) []time.Duration {
	var longest time.Duration
	for _, p := range prep {
		if p > longest {
			longest = p
		}
	}
	out := make([]time.Duration, len(prep))
	for i, p := range prep {
		out[i] = longest - p
	}
	return out
}

type Item struct {
	Selection order.Selection
	Prep      time.Duration
	FireDelay time.Duration
}

// Group is a course, or the "Immediate" bucket for uncoursed items.
type Group struct {
	Course     *order.Course
	Label      string
	FireStatus order.FireStatus
	Items      []Item
	MaxPrep    time.Duration
}

func buildItems(sels []order.Selection, s Settings) ([]Item, time.Duration) {
	prep := make([]time.Duration, len(sels))
	for i, sel := range sels {
		prep[i] = s.prepFor(sel.MenuItemID)
	}
	delays := FireDelays(prep)

	items := make([]Item, len(sels))
	var longest time.Duration
	for i, sel := range sels {
		items[i] = Item{Selection: sel, Prep: prep[i], FireDelay: delays[i]}
		if prep[i] > longest {
			longest = prep[i]
		}
	}
	return items, longest
}

func hasCourses(o *order.Order, s Settings) bool {
	if s.Mode == ModeDisabled {
		return false
	}
	for _, sel := range o.Selections() {
		if sel.CourseID != "" {
			return true
		}
	}
	return false
}

// Groups splits an order into fire groups ordered by course sort order. With
// pacing disabled, or no coursed items, everything is one Immediate group.
func Groups(o *order.Order, s Settings) []Group {
	sels := o.Selections()
	if !hasCourses(o, s) {
		items, longest := buildItems(sels, s)
		return []Group{{Label: immediateLabel, FireStatus: order.FireFired, Items: items, MaxPrep: longest}}
	}

	byCourse := map[string][]order.Selection{}
	var immediate []order.Selection
	for _, sel := range sels {
		if _, ok := o.Course(sel.CourseID); sel.CourseID == "" || !ok {
			immediate = append(immediate, sel)
			continue
		}
		byCourse[sel.CourseID] = append(byCourse[sel.CourseID], sel)
	}

	var groups []Group
	if len(immediate) > 0 {
		items, longest := buildItems(immediate, s)
		groups = append(groups, Group{Label: immediateLabel, FireStatus: order.FireFired, Items: items, MaxPrep: longest})
	}

	courses := make([]order.Course, 0, len(byCourse))
	for _, c := range o.Courses {
		if _, ok := byCourse[c.ID]; ok {
			courses = append(courses, c)
		}
	}
	sort.SliceStable(courses, func(i, j int) bool { return courses[i].SortOrder < courses[j].SortOrder })

	for i := range courses {
		c := courses[i]
		items, longest := buildItems(byCourse[c.ID], s)
		groups = append(groups, Group{Course: &c, Label: c.Name, FireStatus: c.FireStatus, Items: items, MaxPrep: longest})
	}
	return groups
}

// EstimatedPrepMinutes is the longest prep time across the order's items.
func EstimatedPrepMinutes(o *order.Order, s Settings) int {
	var longest time.Duration
	for _, sel := range o.Selections() {
		if p := s.prepFor(sel.MenuItemID); p > longest {
			longest = p
		}
	}
	return int(longest / time.Minute)
}

// FormatFireDelay renders a delay as "Fire now", "+m:ss" or "+Ns".
func FormatFireDelay(d time.Duration) string {
	secs := int(d / time.Second)
	if secs <= 0 {
		return "Fire now"
	}
	if secs >= 60 {
		return fmt.Sprintf("+%d:%02d", secs/60, secs%60)
	}
	return fmt.Sprintf("+%ds", secs)
}

// FormatCountdown renders seconds as m:ss.
func FormatCountdown(secs int) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
