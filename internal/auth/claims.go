package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// defaultTokenTTL applies when GenerateAccessToken is given no TTL.
const defaultTokenTTL = 15 * time.Minute

// Claims extends the JWT registered claims with floor scoping.
type Claims struct {
	jwt.RegisteredClaims

	// Floors limits the token to these floors. Empty means all floors.
	Floors []string `json:"floors,omitempty"`
}

// CanAccessFloor reports whether the token grants floor.
func (c *Claims) CanAccessFloor(floor string) bool {
	if len(c.Floors) == 0 {
		return true
	}
	return slices.Contains(c.Floors, floor)
}

// FilterFloors returns the members of floors the token grants, in order.
func (c *Claims) FilterFloors(floors []string) []string {
	out := make([]string, 0, len(floors))
	for _, f := range floors {
		if c.CanAccessFloor(f) {
			out = append(out, f)
		}
	}
	return out
}

// GenerateAccessToken signs a token for subject. It exists for the
// operator token command and tests; production tokens come from the
// identity service.
func GenerateAccessToken(subject string, floors []string, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Floors: floors,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates tokenString and returns its claims. It checks the
// signature, expiry, subject and, when issuer is non-empty, the iss claim.
func ParseToken(tokenString, secret, issuer string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}
