package data

import (
	"fmt"
	"time"
)

type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	RecipientID string    `json:"recipient_id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

type MessageRepository struct{}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{}
}

func (r *MessageRepository) Insert(m Message) error {
	_, err := ExecDB(`
		INSERT INTO messages (id, sender_id, sender_name, recipient_id, subject, body, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		m.ID, m.SenderID, m.SenderName, m.RecipientID, m.Subject, m.Body, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// Inbox returns messages addressed to recipientID, newest first.
func (r *MessageRepository) Inbox(recipientID string) ([]Message, error) {
	rows, err := QueryDB(`
		SELECT id, sender_id, sender_name, recipient_id, subject, body, read, created_at
		FROM messages WHERE recipient_id = ? ORDER BY created_at DESC`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load inbox: %w", err)
	}
	defer rows.Close()

	result := []Message{}
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.RecipientID, &m.Subject, &m.Body, &m.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *MessageRepository) UnreadCount(recipientID string) (int, error) {
	var n int
	err := QueryRowDB(`SELECT COUNT(*) FROM messages WHERE recipient_id = ? AND read = 0`, []interface{}{recipientID}, &n)
	return n, err
}

// MarkRead flags a message as read. Only the recipient may do so.
func (r *MessageRepository) MarkRead(id, recipientID string) error {
	result, err := ExecDB(`UPDATE messages SET read = 1 WHERE id = ? AND recipient_id = ?`, id, recipientID)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return rowsAffected(result)
}
