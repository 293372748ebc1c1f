package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dentaldir/internal/domain"
)

// ConversationRepository define el contrato de persistencia para conversaciones.
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, conv domain.Conversation) (domain.Conversation, error)
	GetByID(ctx context.Context, id string) (domain.Conversation, error)
	Touch(ctx context.Context, id string, ts time.Time) error
	ListForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
}

type PgConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPgConversationRepository(pool *pgxpool.Pool) *PgConversationRepository {
	return &PgConversationRepository{pool: pool}
}

// FindOrCreate inserta la conversacion del par si no existe y devuelve la fila
// vigente. El UNIQUE (dentist_id, patient_id) mas ON CONFLICT DO NOTHING hace
// seguro el primer contacto simultaneo desde ambos lados.
func (r *PgConversationRepository) FindOrCreate(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	const insert = `
		INSERT INTO conversations (id, dentist_id, patient_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (dentist_id, patient_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, insert,
		conv.ID,
		conv.DentistID,
		conv.PatientID,
		conv.CreatedAt,
	); err != nil {
		return domain.Conversation{}, err
	}

	const query = `
		SELECT id, dentist_id, patient_id, created_at, updated_at
		FROM conversations
		WHERE dentist_id = $1 AND patient_id = $2
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, conv.DentistID, conv.PatientID))
}

func (r *PgConversationRepository) GetByID(ctx context.Context, id string) (domain.Conversation, error) {
	const query = `
		SELECT id, dentist_id, patient_id, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *PgConversationRepository) Touch(ctx context.Context, id string, ts time.Time) error {
	const query = `
		UPDATE conversations SET updated_at = $2 WHERE id = $1 AND updated_at < $2
	`
	_, err := r.pool.Exec(ctx, query, id, ts)
	return err
}

// ListForUser devuelve las conversaciones del usuario con ultimo mensaje y
// cantidad de no leidos, ordenadas por actividad reciente. El desempate por id
// mantiene estable el orden ante updated_at iguales.
func (r *PgConversationRepository) ListForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	const query = `
		SELECT c.id, c.dentist_id, c.patient_id, c.created_at, c.updated_at,
		       CASE WHEN c.dentist_id = $1 THEN c.patient_id ELSE c.dentist_id END AS peer_id,
		       COALESCE(p.display_name, ''),
		       COALESCE(lm.body, ''),
		       COALESCE(lm.created_at, c.created_at),
		       COALESCE(un.cnt, 0)
		FROM conversations c
		LEFT JOIN users p
		       ON p.id = CASE WHEN c.dentist_id = $1 THEN c.patient_id ELSE c.dentist_id END
		LEFT JOIN LATERAL (
			SELECT body, created_at
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS cnt
			FROM messages
			WHERE conversation_id = c.id AND is_read = FALSE AND sender_id <> $1
		) un ON TRUE
		WHERE c.dentist_id = $1 OR c.patient_id = $1
		ORDER BY c.updated_at DESC, c.id DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ConversationSummary
	for rows.Next() {
		var s domain.ConversationSummary
		if err := rows.Scan(
			&s.ID,
			&s.DentistID,
			&s.PatientID,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.PeerID,
			&s.PeerName,
			&s.LastMessageBody,
			&s.LastMessageAt,
			&s.UnreadCount,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PgConversationRepository) scanOne(row pgx.Row) (domain.Conversation, error) {
	var c domain.Conversation
	err := row.Scan(
		&c.ID,
		&c.DentistID,
		&c.PatientID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Conversation{}, err
	}
	return c, err
}
