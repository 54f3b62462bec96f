package repository

import authdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/auth/domain"

// UserRepository defines persistence for users and their refresh tokens.
// Find methods return (nil, nil) when no row matches.
type UserRepository interface {
	Create(user *authdomain.User) error
	FindByEmail(email string) (*authdomain.User, error)
	FindByID(id string) (*authdomain.User, error)
	Update(user *authdomain.User) error

	SaveRefreshToken(token *authdomain.RefreshToken) error
	FindRefreshToken(token string) (*authdomain.RefreshToken, error)
	DeleteRefreshToken(token string) error
	DeleteRefreshTokensByUser(userID string) error
}
