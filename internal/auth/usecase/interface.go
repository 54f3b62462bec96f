package usecase

import (
	authdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/auth/domain"
	authdto "github.com/PBLIZZ/app-omnicrm-sub012/internal/auth/dto"
)

// AuthUsecase handles account lifecycle and token issuance.
type AuthUsecase interface {
	Register(req *authdto.RegisterRequest) (*authdto.TokenResponse, error)
	Login(req *authdto.LoginRequest) (*authdto.TokenResponse, error)
	RefreshToken(refreshToken string) (*authdto.TokenResponse, error)
	Logout(refreshToken string) error
	ValidateToken(tokenString string) (*authdomain.User, error)
	FindByEmail(email string) (*authdomain.User, error)
}
