package database

import (
	"context"
	"slices"

	"github.com/npezzotti/go-consult/internal/types"
)

func (db *PgRepository) CreateChatMessage(ctx context.Context, msg types.ChatMessage) (types.ChatMessage, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO chat_messages (consultation_id, from_id, to_id, text, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id",
		msg.ConsultationId,
		msg.FromId,
		msg.ToId,
		msg.Text,
		msg.CreatedAt,
	)

	err := row.Scan(&msg.Id)
	return msg, err
}

func (db *PgRepository) GetChatHistory(ctx context.Context, consultationId string, before int64, limit int) ([]types.ChatMessage, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, consultation_id, from_id, to_id, text, created_at FROM chat_messages "+
			"WHERE consultation_id = $1 AND ($2::bigint = 0 OR id < $2::bigint) ORDER BY id DESC LIMIT $3",
		consultationId,
		before,
		NormalizeLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]types.ChatMessage, 0)
	for rows.Next() {
		var msg types.ChatMessage
		if err := rows.Scan(&msg.Id, &msg.ConsultationId, &msg.FromId, &msg.ToId, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(messages)
	return messages, nil
}

func (db *PgRepository) CreateNote(ctx context.Context, note types.Note) (types.Note, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO notes (consultation_id, author_id, text, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id",
		note.ConsultationId,
		note.AuthorId,
		note.Text,
		note.Timestamp,
	)

	err := row.Scan(&note.Id)
	return note, err
}

func (db *PgRepository) GetNotes(ctx context.Context, consultationId string, before int64, limit int) ([]types.Note, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, consultation_id, author_id, text, created_at FROM notes "+
			"WHERE consultation_id = $1 AND ($2::bigint = 0 OR id < $2::bigint) ORDER BY id DESC LIMIT $3",
		consultationId,
		before,
		NormalizeLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := make([]types.Note, 0)
	for rows.Next() {
		var note types.Note
		if err := rows.Scan(&note.Id, &note.ConsultationId, &note.AuthorId, &note.Text, &note.Timestamp); err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(notes)
	return notes, nil
}
