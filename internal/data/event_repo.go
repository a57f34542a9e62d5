package data

import (
	"database/sql"
	"fmt"
	"time"
)

// Event kinds
const (
	KindEvent    = "event"
	KindWebinar  = "webinar"
	KindWorkshop = "workshop"
)

type Event struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Location    string     `json:"location"`
	Speakers    []string   `json:"speakers"`
	Capacity    int        `json:"capacity"`
	Status      string     `json:"status"`
	CPDPoints   int        `json:"cpd_points"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// =============================================================================
// EVENT REPOSITORY
// =============================================================================

type EventRepository struct{}

func NewEventRepository() *EventRepository {
	return &EventRepository{}
}

const eventColumns = `id, kind, title, description, category, starts_at, ends_at, location,
	speakers_json, capacity, status, cpd_points, created_at, updated_at`

func (r *EventRepository) Insert(e Event) error {
	speakersJSON, err := marshalJSON(nonNilStrings(e.Speakers))
	if err != nil {
		return fmt.Errorf("failed to marshal speakers: %w", err)
	}

	_, err = ExecDB(`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Title, e.Description, e.Category, formatTime(e.StartsAt),
		formatNullableTime(e.EndsAt), e.Location, speakersJSON, e.Capacity, e.Status,
		e.CPDPoints, formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Update rewrites the editable fields. Status changes go through UpdateStatus.
func (r *EventRepository) Update(e Event) error {
	speakersJSON, err := marshalJSON(nonNilStrings(e.Speakers))
	if err != nil {
		return fmt.Errorf("failed to marshal speakers: %w", err)
	}

	result, err := ExecDB(`
		UPDATE events
		SET title = ?, description = ?, category = ?, starts_at = ?, ends_at = ?, location = ?,
			speakers_json = ?, capacity = ?, cpd_points = ?, updated_at = ?
		WHERE id = ? AND kind = ?`,
		e.Title, e.Description, e.Category, formatTime(e.StartsAt), formatNullableTime(e.EndsAt),
		e.Location, speakersJSON, e.Capacity, e.CPDPoints, formatTime(e.UpdatedAt), e.ID, e.Kind)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return rowsAffected(result)
}

// UpdateStatus changes the status of one event only if it still has the expected status.
func (r *EventRepository) UpdateStatus(id, from, to string, at time.Time) error {
	result, err := ExecDB(`UPDATE events SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, formatTime(at), id, from)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return rowsAffected(result)
}

func (r *EventRepository) Delete(id, kind string) error {
	result, err := ExecDB(`DELETE FROM events WHERE id = ? AND kind = ?`, id, kind)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return rowsAffected(result)
}

func (r *EventRepository) GetByID(id string) (*Event, error) {
	var e Event
	s := &eventScan{e: &e}
	if err := QueryRowDB(`SELECT `+eventColumns+` FROM events WHERE id = ?`, []interface{}{id}, s.dest()...); err != nil {
		return nil, err
	}
	if err := s.populate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns every event of the given kind ("" for all kinds) ordered by start time.
func (r *EventRepository) List(kind string) ([]Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	var args []interface{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY starts_at, title`

	rows, err := QueryDB(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	result := []Event{}
	for rows.Next() {
		var e Event
		s := &eventScan{e: &e}
		if err := rows.Scan(s.dest()...); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := s.populate(); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return result, nil
}

func (r *EventRepository) Count() (int, error) {
	var n int
	err := QueryRowDB(`SELECT COUNT(*) FROM events`, nil, &n)
	return n, err
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

type eventScan struct {
	e                    *Event
	startsAt             string
	endsAt, speakersJSON sql.NullString
	createdAt, updatedAt string
}

func (s *eventScan) dest() []interface{} {
	return []interface{}{
		&s.e.ID, &s.e.Kind, &s.e.Title, &s.e.Description, &s.e.Category, &s.startsAt, &s.endsAt,
		&s.e.Location, &s.speakersJSON, &s.e.Capacity, &s.e.Status, &s.e.CPDPoints, &s.createdAt, &s.updatedAt,
	}
}

func (s *eventScan) populate() error {
	var err error
	if s.e.StartsAt, err = parseTime(s.startsAt); err != nil {
		return fmt.Errorf("failed to parse starts_at: %w", err)
	}
	if s.e.EndsAt, err = parseNullableTime(s.endsAt); err != nil {
		return fmt.Errorf("failed to parse ends_at: %w", err)
	}
	if s.e.Speakers, err = unmarshalNullableStrings(s.speakersJSON); err != nil {
		return fmt.Errorf("failed to unmarshal speakers: %w", err)
	}
	if s.e.CreatedAt, err = parseTime(s.createdAt); err != nil {
		return fmt.Errorf("failed to parse created_at: %w", err)
	}
	if s.e.UpdatedAt, err = parseTime(s.updatedAt); err != nil {
		return fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
