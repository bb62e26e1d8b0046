package auth

import "time"

type Role string

const (
	RoleCreator Role = "creator"
	RoleAdmin   Role = "admin"
)

// User is the domain representation of an account holder. Only creators
// need accounts; recipients may stay anonymous and sign via share links.
// It mirrors the users table and should not include JSON annotations so
// it can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
