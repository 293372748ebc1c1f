package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dentaldir/internal/domain"
)

// FavoriteRepository persiste los dentistas favoritos de cada paciente.
type FavoriteRepository interface {
	Add(ctx context.Context, patientID, dentistID string, ts time.Time) (bool, error)
	Remove(ctx context.Context, patientID, dentistID string) (bool, error)
	ListByPatient(ctx context.Context, patientID string) ([]domain.Favorite, error)
}

type PgFavoriteRepository struct {
	pool *pgxpool.Pool
}

func NewPgFavoriteRepository(pool *pgxpool.Pool) *PgFavoriteRepository {
	return &PgFavoriteRepository{pool: pool}
}

// Add devuelve false si el favorito ya existia.
func (r *PgFavoriteRepository) Add(ctx context.Context, patientID, dentistID string, ts time.Time) (bool, error) {
	const query = `
		INSERT INTO favorites (patient_id, dentist_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id, dentist_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query, patientID, dentistID, ts)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Remove devuelve false si el favorito no existia.
func (r *PgFavoriteRepository) Remove(ctx context.Context, patientID, dentistID string) (bool, error) {
	const query = `
		DELETE FROM favorites WHERE patient_id = $1 AND dentist_id = $2
	`
	tag, err := r.pool.Exec(ctx, query, patientID, dentistID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgFavoriteRepository) ListByPatient(ctx context.Context, patientID string) ([]domain.Favorite, error) {
	const query = `
		SELECT f.patient_id, f.dentist_id, COALESCE(u.display_name, ''), f.created_at
		FROM favorites f
		LEFT JOIN users u ON u.id = f.dentist_id
		WHERE f.patient_id = $1
		ORDER BY f.created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Favorite
	for rows.Next() {
		var f domain.Favorite
		if err := rows.Scan(&f.PatientID, &f.DentistID, &f.DentistName, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
