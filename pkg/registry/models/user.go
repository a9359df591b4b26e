package models

import "time"

// User is an account record. PasswordHash and ApiKey never leave the
// server; responses use AuthResult instead.
type User struct {
	Id           string    `json:"id" gorm:"column:id;primaryKey"`
	Username     string    `json:"username" gorm:"column:username;uniqueIndex"`
	PasswordHash string    `json:"-" gorm:"column:password_hash"`
	ApiKey       string    `json:"-" gorm:"column:api_key"`
	CreatedAt    time.Time `json:"createdAt" gorm:"column:created_at"`
	LastLoginAt  time.Time `json:"lastLoginAt" gorm:"column:last_login_at"`
}

type RegisterInput struct {
	Username string `json:"username" binding:"required" validate:"required"`
	Password string `json:"password" binding:"required" validate:"required"`
}

type LoginInput struct {
	Username string `json:"username" binding:"required" validate:"required"`
	Password string `json:"password" binding:"required" validate:"required"`
}

// AuthResult is returned exactly once per register/login; the api key is
// not re-derivable afterwards. Token is a bearer alternative to the
// x-user-id/x-api-key header pair.
type AuthResult struct {
	UserId string `json:"user_id"`
	ApiKey string `json:"apiKey"`
	Token  string `json:"token,omitempty"`
}
