package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zapgate/gateway-server-go/internal/model"
)

// ArchiveRepository is the append-only durable sink behind the reconciler's
// best-effort buffers. It satisfies the session core's EventSink contract.
type ArchiveRepository interface {
	ArchiveMessages(ctx context.Context, sessionID string, msgs []model.Message) error
	ArchiveContacts(ctx context.Context, sessionID string, contacts []model.Contact) error
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type archiveDB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type archiveRepo struct {
	db archiveDB
}

func NewArchiveRepository(db *sqlx.DB) ArchiveRepository {
	return &archiveRepo{db: db}
}

func (r *archiveRepo) ArchiveMessages(ctx context.Context, sessionID string, msgs []model.Message) error {
	for _, m := range msgs {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO archived_messages
				(session_id, message_id, chat_jid, sender_jid, sender_name, body, message_type, from_me, sent_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, to_timestamp($9))
			ON CONFLICT (session_id, message_id) DO NOTHING
		`, sessionID, m.ID, m.ChatJID, m.SenderJID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Timestamp)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *archiveRepo) ArchiveContacts(ctx context.Context, sessionID string, contacts []model.Contact) error {
	for _, c := range contacts {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO archived_contacts (session_id, jid, name, push_name)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (session_id, jid) DO UPDATE SET
				name = EXCLUDED.name,
				push_name = EXCLUDED.push_name
		`, sessionID, c.JID, c.Name, c.PushName)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *archiveRepo) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM archived_messages WHERE sent_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
