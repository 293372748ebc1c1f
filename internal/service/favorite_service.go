package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"dentaldir/internal/domain"
	"dentaldir/internal/repository"
)

var (
	ErrFavoriteNotConfigured = errors.New("favorite service not configured")
	ErrFavoriteNotFound      = errors.New("favorite not found")
)

// Resultados de Toggle.
const (
	FavoriteAdded   = "added"
	FavoriteRemoved = "removed"
)

// FavoriteService administra el set de dentistas favoritos de cada paciente.
type FavoriteService struct {
	favorites repository.FavoriteRepository
	identity  IdentityOracle
}

func NewFavoriteService(favorites repository.FavoriteRepository, identity IdentityOracle) *FavoriteService {
	return &FavoriteService{favorites: favorites, identity: identity}
}

// Toggle agrega el dentista a favoritos o lo quita si ya estaba.
func (s *FavoriteService) Toggle(ctx context.Context, patientID, dentistID string) (string, error) {
	if s == nil || s.favorites == nil || s.identity == nil {
		return "", ErrFavoriteNotConfigured
	}
	patientID = strings.TrimSpace(patientID)
	dentistID = strings.TrimSpace(dentistID)
	if patientID == "" || dentistID == "" {
		return "", ErrInvalidInput
	}

	isDentist, err := s.identity.IsDentist(ctx, dentistID)
	if err != nil {
		return "", err
	}
	if !isDentist {
		return "", ErrDentistNotFound
	}

	added, err := s.favorites.Add(ctx, patientID, dentistID, time.Now().UTC())
	if err != nil {
		return "", err
	}
	if added {
		return FavoriteAdded, nil
	}
	if _, err := s.favorites.Remove(ctx, patientID, dentistID); err != nil {
		return "", err
	}
	return FavoriteRemoved, nil
}

// Remove quita el favorito; falla si no existia.
func (s *FavoriteService) Remove(ctx context.Context, patientID, dentistID string) error {
	if s == nil || s.favorites == nil {
		return ErrFavoriteNotConfigured
	}
	patientID = strings.TrimSpace(patientID)
	dentistID = strings.TrimSpace(dentistID)
	if patientID == "" || dentistID == "" {
		return ErrInvalidInput
	}
	removed, err := s.favorites.Remove(ctx, patientID, dentistID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrFavoriteNotFound
	}
	return nil
}

// List devuelve los favoritos del paciente, mas recientes primero.
func (s *FavoriteService) List(ctx context.Context, patientID string) ([]domain.Favorite, error) {
	if s == nil || s.favorites == nil {
		return nil, ErrFavoriteNotConfigured
	}
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return []domain.Favorite{}, nil
	}
	out, err := s.favorites.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Favorite{}
	}
	return out, nil
}
