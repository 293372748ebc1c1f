package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dentaldir/internal/domain"
)

// ErrInvalidSender indica que el remitente no participa en la conversacion.
var ErrInvalidSender = errors.New("sender is not a conversation participant")

// MessageRepository define el contrato de persistencia para mensajes.
type MessageRepository interface {
	Append(ctx context.Context, message domain.Message) (domain.Message, error)
	ListSince(ctx context.Context, conversationID string, afterID int64, limit int) ([]domain.Message, error)
	ListPage(ctx context.Context, conversationID string, page, size int) ([]domain.Message, error)
	CountByConversation(ctx context.Context, conversationID string) (int, error)
	MarkRead(ctx context.Context, conversationID, readerID string) error
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

// Append inserta el mensaje y devuelve el id BIGSERIAL asignado por la base.
// El INSERT ... SELECT valida en la misma sentencia que el remitente participa.
func (r *PgMessageRepository) Append(ctx context.Context, message domain.Message) (domain.Message, error) {
	const query = `
		INSERT INTO messages (conversation_id, sender_id, body, is_read, created_at)
		SELECT $1, $2, $3, FALSE, $4
		WHERE EXISTS (
			SELECT 1 FROM conversations
			WHERE id = $1 AND (dentist_id = $2 OR patient_id = $2)
		)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		message.ConversationID,
		message.SenderID,
		message.Body,
		message.CreatedAt,
	).Scan(&message.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, ErrInvalidSender
	}
	if err != nil {
		return domain.Message{}, err
	}
	message.IsRead = false
	return message, nil
}

// ListSince devuelve mensajes con id estrictamente mayor al watermark,
// ascendentes por id. Es funcion pura de sus argumentos: no hay cursor oculto.
func (r *PgMessageRepository) ListSince(ctx context.Context, conversationID string, afterID int64, limit int) ([]domain.Message, error) {
	const query = `
		SELECT id, conversation_id, sender_id, body, is_read, created_at
		FROM messages
		WHERE conversation_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, conversationID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

// ListPage devuelve la pagina n (1-indexada) contando desde el mensaje mas
// reciente, pero con los mensajes de la pagina en orden ascendente por id.
func (r *PgMessageRepository) ListPage(ctx context.Context, conversationID string, page, size int) ([]domain.Message, error) {
	if page < 1 {
		page = 1
	}
	const query = `
		SELECT id, conversation_id, sender_id, body, is_read, created_at
		FROM (
			SELECT id, conversation_id, sender_id, body, is_read, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY id DESC
			LIMIT $2 OFFSET $3
		) recent
		ORDER BY id ASC
	`
	rows, err := r.pool.Query(ctx, query, conversationID, size, (page-1)*size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *PgMessageRepository) CountByConversation(ctx context.Context, conversationID string) (int, error) {
	const query = `
		SELECT COUNT(*) FROM messages WHERE conversation_id = $1
	`
	var count int
	err := r.pool.QueryRow(ctx, query, conversationID).Scan(&count)
	return count, err
}

// MarkRead marca como leidos los mensajes ajenos al lector. Idempotente.
func (r *PgMessageRepository) MarkRead(ctx context.Context, conversationID, readerID string) error {
	const query = `
		UPDATE messages
		SET is_read = TRUE
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = FALSE
	`
	_, err := r.pool.Exec(ctx, query, conversationID, readerID)
	return err
}

func (r *PgMessageRepository) collect(rows pgx.Rows) ([]domain.Message, error) {
	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.Body,
			&msg.IsRead,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
