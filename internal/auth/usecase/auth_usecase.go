package usecase

import (
	"errors"
	"time"

	authdomain "dmsync-backend/internal/auth/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthUsecase issues and validates HS256 service tokens
type AuthUsecase interface {
	GenerateToken(subject, accountID, scope string, ttl time.Duration) (string, error)
	ValidateToken(tokenString string) (*authdomain.ServiceClaims, error)
}

// authUsecase implements AuthUsecase interface
type authUsecase struct {
	secret []byte
}

// NewAuthUsecase creates a new instance of authUsecase
func NewAuthUsecase(secret string) AuthUsecase {
	return &authUsecase{
		secret: []byte(secret),
	}
}

func (u *authUsecase) GenerateToken(subject, accountID, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := authdomain.ServiceClaims{
		AccountID: accountID,
		Scope:     scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(u.secret)
}

func (u *authUsecase) ValidateToken(tokenString string) (*authdomain.ServiceClaims, error) {
	claims := &authdomain.ServiceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return u.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
