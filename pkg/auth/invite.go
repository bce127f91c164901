// Package auth issues invite tokens, hashes passwords and mints API keys.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid invite token")
	ErrExpiredToken = errors.New("invite token has expired")
	ErrNoSecret     = errors.New("invite secret is empty")
)

const inviteIssuer = "tidewire"

type InviteClaims struct {
	InviterID string `json:"inviterId"`
	InviteeID string `json:"inviteeId"`
	jwt.RegisteredClaims
}

// InviteTokens signs and verifies the token embedded in signup links.
type InviteTokens struct {
	secret []byte
	expiry time.Duration
}

func NewInviteTokens(secret string, expiry time.Duration) (*InviteTokens, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}

	return &InviteTokens{
		secret: []byte(secret),
		expiry: expiry,
	}, nil
}

func (s *InviteTokens) Issue(inviterID, inviteeID string) (string, error) {
	now := time.Now()
	claims := InviteClaims{
		InviterID: inviterID,
		InviteeID: inviteeID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    inviteIssuer,
			Subject:   inviteeID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(s.secret)
}

func (s *InviteTokens) Parse(tokenString string) (*InviteClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &InviteClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}

		return s.secret, nil
	}, jwt.WithIssuer(inviteIssuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}

		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*InviteClaims)
	if !ok || !token.Valid || claims.InviteeID == "" || claims.InviterID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
