// Package events lists, filters and administers events, webinars and workshops.
package events

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"medassoc/internal/data"
)

// Event statuses
const (
	StatusPlanning  = "planning"
	StatusLive      = "live"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrUnknownKind       = errors.New("unknown event kind")
)

// Badge is how a status is shown on listings
type Badge struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

var badges = map[string]Badge{
	StatusPlanning:  {Label: "Planning", Color: "blue", Icon: "calendar"},
	StatusLive:      {Label: "Live", Color: "green", Icon: "radio"},
	StatusCompleted: {Label: "Completed", Color: "gray", Icon: "check-circle"},
	StatusCancelled: {Label: "Cancelled", Color: "red", Icon: "x-circle"},
}

var unknownBadge = Badge{Label: "Unknown", Color: "gray", Icon: "help-circle"}

func BadgeFor(status string) Badge {
	if b, ok := badges[status]; ok {
		return b
	}
	return unknownBadge
}

func ValidStatus(status string) bool {
	_, ok := badges[status]
	return ok
}

var transitions = map[string][]string{
	StatusPlanning: {StatusLive, StatusCancelled},
	StatusLive:     {StatusCompleted, StatusCancelled},
}

// CheckTransition reports whether an event may move from one status to another.
// Completed and cancelled are final.
func CheckTransition(from, to string) error {
	if !ValidStatus(to) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Open statuses are the ones a member can still attend
func IsOpen(status string) bool {
	return status == StatusPlanning || status == StatusLive
}

// KindFromPath maps the admin path segment ("webinars") to an event kind ("webinar").
func KindFromPath(segment string) (string, error) {
	switch strings.ToLower(segment) {
	case "webinars":
		return data.KindWebinar, nil
	case "workshops":
		return data.KindWorkshop, nil
	case "events":
		return data.KindEvent, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, segment)
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	Query    string
	Kind     string
	Status   string
	Category string
}

func (f Filter) matches(e data.Event) bool {
	if f.Kind != "" && !strings.EqualFold(f.Kind, e.Kind) {
		return false
	}
	if f.Status != "" && !strings.EqualFold(f.Status, e.Status) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, e.Category) {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Title), q) || strings.Contains(strings.ToLower(e.Description), q)
}

// Item is an event as listed, with its badge
type Item struct {
	data.Event
	Badge Badge `json:"badge"`
}

// Apply returns the matching events ordered by start time. It never returns nil.
func Apply(all []data.Event, f Filter) []Item {
	out := []Item{}
	for _, e := range all {
		if f.matches(e) {
			out = append(out, Item{Event: e, Badge: BadgeFor(e.Status)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}
