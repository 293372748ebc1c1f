package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"dentaldir/internal/domain"
	"dentaldir/internal/repository"
)

// IdentityOracle responde rol y plan de suscripcion de un usuario. Es la
// unica fuente de verdad para esas preguntas: ningun servicio vuelve a
// deducir roles por su cuenta.
type IdentityOracle interface {
	IsDentist(ctx context.Context, userID string) (bool, error)
	IsPatient(ctx context.Context, userID string) (bool, error)
	// SubscriptionPlan lee el plan vigente del dentista. Se consulta en cada
	// envio, sin cache: un upgrade a premium aplica de inmediato.
	SubscriptionPlan(ctx context.Context, dentistID string) (string, error)
}

var ErrUserNotFound = errors.New("user not found")

type directoryIdentity struct {
	users repository.UserRepository
}

// NewDirectoryIdentity crea el oraculo respaldado por la tabla de usuarios.
func NewDirectoryIdentity(users repository.UserRepository) IdentityOracle {
	return &directoryIdentity{users: users}
}

func (d *directoryIdentity) IsDentist(ctx context.Context, userID string) (bool, error) {
	return d.hasRole(ctx, userID, domain.RoleDentist)
}

func (d *directoryIdentity) IsPatient(ctx context.Context, userID string) (bool, error) {
	return d.hasRole(ctx, userID, domain.RolePatient)
}

func (d *directoryIdentity) SubscriptionPlan(ctx context.Context, dentistID string) (string, error) {
	user, err := d.users.GetByID(ctx, dentistID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	if user.Role != domain.RoleDentist {
		return "", ErrUserNotFound
	}
	if user.Plan == "" {
		return domain.PlanFree, nil
	}
	return user.Plan, nil
}

func (d *directoryIdentity) hasRole(ctx context.Context, userID, role string) (bool, error) {
	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return user.Role == role, nil
}
