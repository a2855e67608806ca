package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTTL = 15 * time.Minute

	// clockSkew tolerates drift between the core and a beacon without RTC.
	clockSkew = 30 * time.Second
)

// Claims is the payload of a beacon access token.
type Claims struct {
	jwt.RegisteredClaims
	Role      Role   `json:"role"`
	SessionID string `json:"sid"`

	// Beacons limits the token to the listed beacon ids. Empty means
	// every beacon on the site.
	Beacons []string `json:"bcn,omitempty"`
}

// Principal returns the caller identified by the claims.
func (c *Claims) Principal() Principal {
	return Principal{ID: c.Subject, Role: c.Role}
}

// Allows reports whether the token may be used against beaconID.
func (c *Claims) Allows(beaconID string) bool {
	return len(c.Beacons) == 0 || slices.Contains(c.Beacons, beaconID)
}

// GenerateAccessToken signs an HS256 token for p valid for ttlMinutes
// (15 when not positive), optionally scoped to the given beacon ids.
// The core normally issues tokens; beacons mint their own only for local
// tooling and tests.
func GenerateAccessToken(p Principal, secret string, ttlMinutes int, beacons ...string) (string, error) {
	ttl := time.Duration(ttlMinutes) * time.Minute
	if ttl <= 0 {
		ttl = defaultTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:      p.Role,
		SessionID: uuid.NewString(),
		Beacons:   beacons,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies an HS256 access token and returns its claims. The
// token must carry an expiry, a subject and a known role. Every failure
// wraps ErrTokenInvalid.
func ParseToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	case !claims.Role.Valid():
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}
