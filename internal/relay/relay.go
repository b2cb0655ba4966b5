// Package relay implements directed messaging between agents: send,
// inbox, and read markers (§4.F). A successful send always persists the
// Message before notifying subscribers, so the inbox is authoritative
// even if push delivery never reaches a live socket.
package relay

import (
	"context"
	"database/sql"
	"time"

	"github.com/moltgrid/agentforge/internal/apierr"
	"github.com/moltgrid/agentforge/internal/events"
	"github.com/moltgrid/agentforge/internal/id"
	"github.com/moltgrid/agentforge/internal/store"
)

// Message is a single directed message row.
type Message struct {
	MessageID string
	FromAgent string
	ToAgent   string
	Channel   string
	Payload   string
	CreatedAt time.Time
	ReadAt    *time.Time
}

// Relay provides send/inbox/mark_read against the Store, and notifies
// sink on successful sends.
type Relay struct {
	store *store.Store
	sink  events.Sink
}

// New builds a Relay that fires events.MessageReceived through sink.
func New(s *store.Store, sink events.Sink) *Relay {
	return &Relay{store: s, sink: sink}
}

// Send inserts a Message addressed to toAgent and notifies sink. It
// fails NotFound if toAgent is not a registered agent.
func (r *Relay) Send(ctx context.Context, fromAgent, toAgent, channel, payload string) (*Message, error) {
	var exists int
	if err := r.store.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM agents WHERE agent_id = ?`, toAgent,
	).Scan(&exists); err != nil {
		return nil, apierr.Wrap(err, "check recipient")
	}
	if exists == 0 {
		return nil, apierr.NewNotFound("agent %q not found", toAgent)
	}

	messageID := id.New(id.PrefixMessage)
	now := store.Now()

	var channelVal any
	if channel != "" {
		channelVal = channel
	}

	if _, err := r.store.DB.ExecContext(ctx,
		`INSERT INTO messages (message_id, from_agent, to_agent, channel, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		messageID, fromAgent, toAgent, channelVal, payload, now,
	); err != nil {
		return nil, apierr.Wrap(err, "send message")
	}

	createdAt, _ := store.ParseTime(now)
	msg := &Message{
		MessageID: messageID,
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		Channel:   channel,
		Payload:   payload,
		CreatedAt: createdAt,
	}

	r.sink.Fire(ctx, toAgent, events.MessageReceived, map[string]any{
		"message_id": messageID,
		"from_agent": fromAgent,
		"channel":    channel,
		"payload":    payload,
		"created_at": now,
	})

	return msg, nil
}

// Inbox returns messages addressed to agentID, optionally filtered by
// channel, ordered by created_at ascending. When unreadOnly is true
// (the default), only messages with read_at IS NULL are returned.
func (r *Relay) Inbox(ctx context.Context, agentID, channel string, unreadOnly bool) ([]*Message, error) {
	query := `SELECT message_id, from_agent, to_agent, channel, payload, created_at, read_at
	          FROM messages WHERE to_agent = ?`
	args := []any{agentID}

	if channel != "" {
		query += ` AND channel = ?`
		args = append(args, channel)
	}
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.store.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(err, "list inbox")
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apierr.Wrap(err, "scan message")
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkRead sets read_at=now on messageID, idempotently. It fails
// NotFound if the message is not addressed to agentID.
func (r *Relay) MarkRead(ctx context.Context, agentID, messageID string) error {
	res, err := r.store.DB.ExecContext(ctx,
		`UPDATE messages SET read_at = ? WHERE message_id = ? AND to_agent = ? AND read_at IS NULL`,
		store.Now(), messageID, agentID,
	)
	if err != nil {
		return apierr.Wrap(err, "mark message read")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Wrap(err, "mark message read")
	}
	if n == 0 {
		var exists int
		if err := r.store.DB.QueryRowContext(ctx,
			`SELECT count(*) FROM messages WHERE message_id = ? AND to_agent = ?`, messageID, agentID,
		).Scan(&exists); err != nil {
			return apierr.Wrap(err, "check message")
		}
		if exists == 0 {
			return apierr.NewNotFound("message %q not found", messageID)
		}
		// Already read: idempotent no-op.
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var channel, readAt sql.NullString
	var createdAt string

	if err := row.Scan(&m.MessageID, &m.FromAgent, &m.ToAgent, &channel, &m.Payload, &createdAt, &readAt); err != nil {
		return nil, err
	}

	m.Channel = channel.String
	m.CreatedAt, _ = store.ParseTime(createdAt)
	if readAt.Valid {
		t, _ := store.ParseTime(readAt.String)
		m.ReadAt = &t
	}
	return &m, nil
}
