package sessions

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// GrantClaims are the JWT claims carried by an access grant.
type GrantClaims struct {
	jwt.RegisteredClaims
	UID string `json:"uid,omitempty"`
}

// SubjectID returns the subject the grant was issued to.
func (c *GrantClaims) SubjectID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// JWTIssuer implements TokenIssuer. Access grants are HS256 JWTs stamped
// with AccessGrantLifetime; refresh sessions are opaque v4 UUID records
// stamped with SessionLifetime. Grants are stateless: the server keeps no
// record of them beyond the expiry baked into the token.
type JWTIssuer struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	clock      Clock
	logger     Logger
}

// NewJWTIssuer creates a new JWTIssuer instance
func NewJWTIssuer(signingKey []byte, issuer string, audience []string, clock Clock, logger Logger) *JWTIssuer {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = defLogger{}
	}
	return &JWTIssuer{
		signingKey: signingKey,
		issuer:     issuer,
		audience:   audience,
		clock:      clock,
		logger:     logger,
	}
}

var _ TokenIssuer = (*JWTIssuer)(nil)

// IssueAccessGrant signs a short-lived grant bound to subjectID.
func (ts *JWTIssuer) IssueAccessGrant(subjectID string) (string, error) {
	now := ts.clock.Now()
	claims := &GrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    ts.issuer,
			Subject:   subjectID,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ts.clock.ExpiryAfter(AccessGrantLifetime)),
		},
		UID: subjectID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign access grant")
	}

	return signed, nil
}

// VerifyAccessGrant parses and validates a grant, returning the subject ID.
func (ts *JWTIssuer) VerifyAccessGrant(tokenString string) (string, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &GrantClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("VerifyAccessGrant unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrGrantExpired
		}
		return "", errors.Wrap(err, ErrGrantMalformed.Category, ErrGrantMalformed.Message).
			WithTextCode(ErrGrantMalformed.TextCode)
	}

	claims, ok := token.Claims.(*GrantClaims)
	if !ok || !token.Valid {
		ts.logger.Error("VerifyAccessGrant could not decode claims")
		return "", ErrGrantMalformed
	}

	return claims.SubjectID(), nil
}

// IssueRefreshSession builds a fresh session record for subjectID. The
// caller persists it; issuance itself has no side effects.
func (ts *JWTIssuer) IssueRefreshSession(subjectID uuid.UUID) *Session {
	now := ts.clock.Now()
	return &Session{
		ID:        uuid.New(),
		UserID:    subjectID,
		IssuedAt:  now,
		ExpiresAt: ts.clock.ExpiryAfter(SessionLifetime),
	}
}
