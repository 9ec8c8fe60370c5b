package security

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/errgroup"

	"multi-entity-auth/backend/internal/autherr"
)

// TokenType discriminates access from refresh tokens. Callers must check it; the provider does not.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Default lifetimes used when the configured TTL is not positive.
const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the JWT payload for both token types:
// {sub, sessionId, email, authEntity, role?, type, iat, exp} plus iss, aud and jti.
type Claims struct {
	jwt.RegisteredClaims
	SessionID  string    `json:"sessionId"`
	Email      string    `json:"email"`
	AuthEntity string    `json:"authEntity"`
	Role       string    `json:"role,omitempty"`
	Type       TokenType `json:"type"`
}

// IdentityID returns the sub claim.
func (c *Claims) IdentityID() string { return c.Subject }

// Subject identifies whom a token pair is issued for.
type Subject struct {
	IdentityID string
	SessionID  string
	Email      string
	AuthEntity string
	Role       string
}

// TokenPair is a freshly issued access/refresh pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenProvider issues and verifies signed access and refresh tokens (HS256, RS256 or ES256).
type TokenProvider struct {
	key        SigningKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
}

// NewTokenProvider returns a TokenProvider for key. Non-positive TTLs fall back to 1h / 7d.
func NewTokenProvider(key SigningKey, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	if key.method == nil {
		return nil, autherr.NewConfigurationError("JWT_SECRET", "signing secret is required")
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{key.method.Alg()}), jwt.WithIssuedAt()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &TokenProvider{
		key:        key,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		parser:     jwt.NewParser(opts...),
	}, nil
}

// AccessTTL returns the access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived access token.
func (p *TokenProvider) IssueAccess(identityID, sessionID, email, authEntity, role string) (string, time.Time, error) {
	return p.issue(TokenTypeAccess, p.accessTTL, Subject{
		IdentityID: identityID,
		SessionID:  sessionID,
		Email:      email,
		AuthEntity: authEntity,
		Role:       role,
	})
}

// IssueRefresh issues a long-lived refresh token. Role is never embedded in refresh tokens.
func (p *TokenProvider) IssueRefresh(identityID, sessionID, email, authEntity string) (string, time.Time, error) {
	return p.issue(TokenTypeRefresh, p.refreshTTL, Subject{
		IdentityID: identityID,
		SessionID:  sessionID,
		Email:      email,
		AuthEntity: authEntity,
	})
}

// IssuePair issues the access and refresh tokens concurrently.
func (p *TokenProvider) IssuePair(ctx context.Context, sub Subject) (*TokenPair, error) {
	var pair TokenPair
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		tok, exp, err := p.IssueAccess(sub.IdentityID, sub.SessionID, sub.Email, sub.AuthEntity, sub.Role)
		pair.AccessToken, pair.AccessExpiresAt = tok, exp
		return err
	})
	g.Go(func() error {
		tok, exp, err := p.IssueRefresh(sub.IdentityID, sub.SessionID, sub.Email, sub.AuthEntity)
		pair.RefreshToken, pair.RefreshExpiresAt = tok, exp
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &pair, nil
}

func (p *TokenProvider) issue(typ TokenType, ttl time.Duration, sub Subject) (string, time.Time, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.IdentityID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID:  sub.SessionID,
		Email:      sub.Email,
		AuthEntity: sub.AuthEntity,
		Role:       sub.Role,
		Type:       typ,
	}
	if p.audience != "" {
		claims.Audience = jwt.ClaimStrings{p.audience}
	}
	token, err := jwt.NewWithClaims(p.key.method, claims).SignedString(p.key.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify checks signature, issuer, audience and expiry. It returns autherr.ErrExpiredToken for an
// otherwise valid token past exp and autherr.ErrInvalidToken for everything else.
func (p *TokenProvider) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, autherr.ErrInvalidToken
	}
	claims := &Claims{}
	token, err := p.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.key.verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherr.ErrExpiredToken
		}
		return nil, autherr.ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" || claims.SessionID == "" {
		return nil, autherr.ErrInvalidToken
	}
	if claims.Type != TokenTypeAccess && claims.Type != TokenTypeRefresh {
		return nil, autherr.ErrInvalidToken
	}
	return claims, nil
}

// DecodeUnsafe parses the payload without checking the signature or expiry. Returns nil if the
// token is not structurally a JWT. The result must never be used for authentication.
func (p *TokenProvider) DecodeUnsafe(tokenString string) *Claims {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	return claims
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
