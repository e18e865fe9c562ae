package stubapi

import (
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	signingKeyID = "stubapi"
)

// Claims mirrors the payload a SimpleJWT backend issues
type Claims struct {
	jwt.RegisteredClaims
	TokenType  string `json:"token_type"`
	Username   string `json:"username"`
	Generation int    `json:"gen,omitempty"`
}

type tokenIssuer struct {
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	keyFunc    jwt.Keyfunc
	now        func() time.Time
}

func newTokenIssuer(key []byte, issuer string, accessTTL, refreshTTL time.Duration) *tokenIssuer {
	given := map[string]keyfunc.GivenKey{
		signingKeyID: keyfunc.NewGivenCustom(key, keyfunc.GivenKeyOptions{
			Algorithm: jwt.SigningMethodHS256.Alg(),
		}),
	}

	return &tokenIssuer{
		key:        key,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		keyFunc:    keyfunc.NewGiven(given).Keyfunc,
		now:        time.Now,
	}
}

func (t *tokenIssuer) access(username string, generation int) (string, error) {
	return t.sign(username, tokenTypeAccess, t.accessTTL, generation)
}

func (t *tokenIssuer) refresh(username string) (string, error) {
	return t.sign(username, tokenTypeRefresh, t.refreshTTL, 0)
}

func (t *tokenIssuer) sign(username, tokenType string, ttl time.Duration, generation int) (string, error) {
	now := t.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType:  tokenType,
		Username:   username,
		Generation: generation,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = signingKeyID

	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (t *tokenIssuer) parse(raw, tokenType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, t.keyFunc,
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token not valid")
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("expected %s token, got %q", tokenType, claims.TokenType)
	}
	return claims, nil
}
