package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operator roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

type User struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

// Claims defines the structure of the JWT claims.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Scope is the caller identity used to pick an accessible configuration.
type Scope struct {
	Username string
	Role     string
}

func (s Scope) IsAdmin() bool {
	return s.Role == RoleAdmin
}
