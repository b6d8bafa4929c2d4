package users

import (
	"time"

	"github.com/hugin-munin/hm-api/internal/shared"
)

// User mirrors a row of the usuario table. PasswordHash never leaves the
// package boundary: wire DTOs are built from the other fields.
type User struct {
	ID           int64     `json:"id_usuario"`
	Username     string    `json:"nombre_usuario"`
	Email        string    `json:"correo"`
	PasswordHash string    `json:"-"`
	RoleID       int64     `json:"id_rol"`
	Active       bool      `json:"activo"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity projects the user onto the claims carried by a token.
func (u User) Identity() shared.Identity {
	return shared.Identity{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		RoleID:   u.RoleID,
		Active:   u.Active,
	}
}
