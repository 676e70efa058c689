// Package auth binds the identity asserted at handshake time to the
// authentication step that happened out-of-band. When a signing secret is
// configured, a handshake must present an HS256 token whose subject matches
// the asserted participant id; a bare asserted id is rejected. With no
// secret the server runs in trusting mode, suitable for development only.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks handshake identity tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier. An empty secret disables verification.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return &Verifier{}
	}
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether handshakes must carry a signed token.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify checks that token is a valid HS256 JWT whose subject is
// participantID. It is a no-op in trusting mode.
func (v *Verifier) Verify(token, participantID string) error {
	if !v.Enabled() {
		return nil
	}
	if token == "" {
		return fmt.Errorf("identity token is required")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return fmt.Errorf("parse identity token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("identity token is invalid")
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return fmt.Errorf("identity token subject: %w", err)
	}
	if subject != participantID {
		return fmt.Errorf("identity token subject %q does not match asserted participant %q", subject, participantID)
	}
	return nil
}

// Mint issues a token for participantID, used by tests and by operators
// provisioning clients. It fails in trusting mode.
func (v *Verifier) Mint(participantID string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", fmt.Errorf("no signing secret configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   participantID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
