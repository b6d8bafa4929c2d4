package users

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/hugin-munin/hm-api/internal/shared"
)

const minPasswordLength = 8

// Service implements credential verification and account queries.
type Service struct {
	repo Repository
}

// NewService constructs the user service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate verifies a username/password pair and returns the user's
// identity. Unknown users, inactive accounts, and wrong passwords all fail
// with the same message so the response does not leak which part was wrong.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*shared.Identity, error) {
	invalid := shared.Authentication("Credenciales inválidas")

	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if shared.KindOf(err) == shared.KindNotFound {
			return nil, invalid
		}
		return nil, err
	}
	if !user.Active {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, invalid
		}
		return nil, shared.Internal("no se pudo verificar la contraseña", err)
	}
	identity := user.Identity()
	return &identity, nil
}

// Get fetches a user by id.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns every registered user.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// ChangePassword verifies the current password and stores a fresh hash for
// the new one. A wrong current password is a validation failure, not an
// authentication one: the caller already proved who they are via their token.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if current == "" || next == "" {
		return shared.Validationf("la contraseña actual y la nueva son requeridas")
	}
	if len(next) < minPasswordLength {
		return shared.Validationf("la nueva contraseña debe tener al menos %d caracteres", minPasswordLength)
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return shared.Validationf("la contraseña actual es incorrecta")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return shared.Internal("no se pudo generar el hash de la contraseña", err)
	}
	return s.repo.UpdatePassword(ctx, userID, string(hash))
}
