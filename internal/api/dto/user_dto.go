package dto

import "time"

// UserRegisterRequest payload.
type UserRegisterRequest struct {
	Nome  string `json:"nome"`
	Email string `json:"email"`
	Senha string `json:"senha"`
}

// UserLoginRequest payload.
type UserLoginRequest struct {
	Email string `json:"email"`
	Senha string `json:"senha"`
}

// AuthResponse carries issued token info.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse public user representation.
type UserResponse struct {
	ID    int64  `json:"id"`
	Nome  string `json:"nome"`
	Email string `json:"email"`
	Admin bool   `json:"admin"`
}

// PasswordResetRequest payload.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirmRequest payload.
type PasswordResetConfirmRequest struct {
	Token string `json:"token"`
	Senha string `json:"senha"`
}

// PasswordChangeRequest payload.
type PasswordChangeRequest struct {
	SenhaAtual string `json:"senha_atual"`
	NovaSenha  string `json:"nova_senha"`
}
