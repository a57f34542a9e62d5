package data

import (
	"fmt"
	"time"
)

type ForumThread struct {
	ID         string    `json:"id"`
	MemberID   string    `json:"member_id"`
	AuthorName string    `json:"author_name"`
	Category   string    `json:"category"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ReplyCount int       `json:"reply_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ForumReply struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	MemberID   string    `json:"member_id"`
	AuthorName string    `json:"author_name"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type ForumRepository struct{}

func NewForumRepository() *ForumRepository {
	return &ForumRepository{}
}

func (r *ForumRepository) InsertThread(t ForumThread) error {
	_, err := ExecDB(`
		INSERT INTO forum_threads (id, member_id, author_name, category, title, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.MemberID, t.AuthorName, t.Category, t.Title, t.Body, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert forum thread: %w", err)
	}
	return nil
}

// InsertReply stores a reply and bumps the thread's updated_at.
func (r *ForumRepository) InsertReply(reply ForumReply) error {
	_, err := ExecDB(`
		INSERT INTO forum_replies (id, thread_id, member_id, author_name, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		reply.ID, reply.ThreadID, reply.MemberID, reply.AuthorName, reply.Body, formatTime(reply.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert forum reply: %w", err)
	}
	if _, err := ExecDB(`UPDATE forum_threads SET updated_at = ? WHERE id = ?`, formatTime(reply.CreatedAt), reply.ThreadID); err != nil {
		return fmt.Errorf("failed to touch forum thread: %w", err)
	}
	return nil
}

const threadSelect = `
	SELECT t.id, t.member_id, t.author_name, t.category, t.title, t.body,
		(SELECT COUNT(*) FROM forum_replies r WHERE r.thread_id = t.id),
		t.created_at, t.updated_at
	FROM forum_threads t`

func (r *ForumRepository) GetThread(id string) (*ForumThread, error) {
	var t ForumThread
	var createdAt, updatedAt string
	err := QueryRowDB(threadSelect+` WHERE t.id = ?`, []interface{}{id},
		&t.ID, &t.MemberID, &t.AuthorName, &t.Category, &t.Title, &t.Body, &t.ReplyCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListThreads returns threads, most recently active first.
func (r *ForumRepository) ListThreads() ([]ForumThread, error) {
	rows, err := QueryDB(threadSelect + ` ORDER BY t.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list forum threads: %w", err)
	}
	defer rows.Close()

	result := []ForumThread{}
	for rows.Next() {
		var t ForumThread
		var createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.MemberID, &t.AuthorName, &t.Category, &t.Title, &t.Body,
			&t.ReplyCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan forum thread: %w", err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *ForumRepository) ListReplies(threadID string) ([]ForumReply, error) {
	rows, err := QueryDB(`
		SELECT id, thread_id, member_id, author_name, body, created_at
		FROM forum_replies WHERE thread_id = ? ORDER BY created_at`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list forum replies: %w", err)
	}
	defer rows.Close()

	result := []ForumReply{}
	for rows.Next() {
		var reply ForumReply
		var createdAt string
		if err := rows.Scan(&reply.ID, &reply.ThreadID, &reply.MemberID, &reply.AuthorName, &reply.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan forum reply: %w", err)
		}
		if reply.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, reply)
	}
	return result, rows.Err()
}
