package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CounterRepository persiste el contador mensual de envios por dentista.
type CounterRepository interface {
	GetCount(ctx context.Context, dentistID string, month, year int) (int, error)
	IncrementIfBelow(ctx context.Context, dentistID string, month, year, limit int) (int, bool, error)
	Decrement(ctx context.Context, dentistID string, month, year int) error
}

type PgCounterRepository struct {
	pool *pgxpool.Pool
}

func NewPgCounterRepository(pool *pgxpool.Pool) *PgCounterRepository {
	return &PgCounterRepository{pool: pool}
}

// GetCount devuelve 0 si no existe fila; leer nunca crea filas.
func (r *PgCounterRepository) GetCount(ctx context.Context, dentistID string, month, year int) (int, error) {
	const query = `
		SELECT message_count
		FROM message_counters
		WHERE dentist_id = $1 AND month = $2 AND year = $3
	`
	var count int
	err := r.pool.QueryRow(ctx, query, dentistID, month, year).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

// IncrementIfBelow incrementa el contador solo si sigue por debajo del limite,
// en una unica sentencia condicional. Devuelve (nuevoConteo, true) si el
// incremento ocurrio y (0, false) si el limite ya estaba alcanzado. Dos envios
// concurrentes en count = limit-1 resuelven aqui: uno gana la fila, el otro no.
func (r *PgCounterRepository) IncrementIfBelow(ctx context.Context, dentistID string, month, year, limit int) (int, bool, error) {
	if limit < 1 {
		return 0, false, nil
	}
	const query = `
		INSERT INTO message_counters (dentist_id, month, year, message_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (dentist_id, month, year)
		DO UPDATE SET message_count = message_counters.message_count + 1
		WHERE message_counters.message_count < $4
		RETURNING message_count
	`
	var count int
	err := r.pool.QueryRow(ctx, query, dentistID, month, year, limit).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

// Decrement revierte una reserva cuando el insert del mensaje fallo despues
// de consumir cupo. Nunca deja el contador por debajo de cero.
func (r *PgCounterRepository) Decrement(ctx context.Context, dentistID string, month, year int) error {
	const query = `
		UPDATE message_counters
		SET message_count = GREATEST(message_count - 1, 0)
		WHERE dentist_id = $1 AND month = $2 AND year = $3
	`
	_, err := r.pool.Exec(ctx, query, dentistID, month, year)
	return err
}
