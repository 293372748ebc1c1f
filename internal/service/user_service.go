package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"dentaldir/internal/domain"
	"dentaldir/internal/repository"
)

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidPlan        = errors.New("invalid plan")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserService coordina altas, login y cambios de plan en el directorio.
type UserService struct {
	logger *zap.Logger
	users  repository.UserRepository
}

func NewUserService(logger *zap.Logger, users repository.UserRepository) *UserService {
	return &UserService{logger: logger, users: users}
}

type RegisterInput struct {
	Email       string
	DisplayName string
	Role        string
	Password    string
}

// Register crea un usuario del directorio. Los dentistas arrancan en plan free.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (domain.User, error) {
	if s == nil || s.users == nil {
		return domain.User{}, errors.New("user service not configured")
	}

	emailAddr := normalizeEmail(input.Email)
	if emailAddr == "" {
		return domain.User{}, ErrInvalidEmail
	}
	role := strings.ToLower(strings.TrimSpace(input.Role))
	if role != domain.RoleDentist && role != domain.RolePatient {
		return domain.User{}, ErrInvalidRole
	}
	password := strings.TrimSpace(input.Password)
	if password == "" {
		return domain.User{}, ErrInvalidCredentials
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	plan := ""
	if role == domain.RoleDentist {
		plan = domain.PlanFree
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Email:        emailAddr,
		DisplayName:  strings.TrimSpace(input.DisplayName),
		Role:         role,
		Plan:         plan,
		PasswordHash: string(hashBytes),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Authenticate valida email y contraseña.
func (s *UserService) Authenticate(ctx context.Context, emailAddr, password string) (domain.User, error) {
	if s == nil || s.users == nil {
		return domain.User{}, errors.New("user service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	password = strings.TrimSpace(password)
	if emailAddr == "" || password == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if user.PasswordHash == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ChangePlan mueve a un dentista entre free y premium. El upgrade toma efecto
// en el siguiente envio: el plan se relee en cada gate de cuota.
func (s *UserService) ChangePlan(ctx context.Context, dentistID, plan string) (domain.User, error) {
	if s == nil || s.users == nil {
		return domain.User{}, errors.New("user service not configured")
	}

	plan = strings.ToLower(strings.TrimSpace(plan))
	if plan != domain.PlanFree && plan != domain.PlanPremium {
		return domain.User{}, ErrInvalidPlan
	}

	user, err := s.users.GetByID(ctx, strings.TrimSpace(dentistID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	if user.Role != domain.RoleDentist {
		return domain.User{}, ErrInvalidRole
	}

	if err := s.users.UpdatePlan(ctx, user.ID, plan); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	user.Plan = plan

	if s.logger != nil {
		s.logger.Info("plan changed", zap.String("dentist_id", user.ID), zap.String("plan", plan))
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
