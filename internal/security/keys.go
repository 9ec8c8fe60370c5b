package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"multi-entity-auth/backend/internal/autherr"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// minSecretLen is the minimum HS256 secret length in bytes.
const minSecretLen = 32

// SigningKey pairs a JWT signing method with the key material used to sign and verify.
type SigningKey struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// Alg returns the JWT alg header value ("HS256", "RS256" or "ES256").
func (k SigningKey) Alg() string {
	if k.method == nil {
		return ""
	}
	return k.method.Alg()
}

// NewHMACKey returns an HS256 signing key. An empty or short secret is a configuration error.
func NewHMACKey(secret string) (SigningKey, error) {
	if strings.TrimSpace(secret) == "" {
		return SigningKey{}, autherr.NewConfigurationError("JWT_SECRET", "signing secret is required")
	}
	if len(secret) < minSecretLen {
		return SigningKey{}, autherr.NewConfigurationError("JWT_SECRET", "signing secret must be at least 32 bytes")
	}
	b := []byte(secret)
	return SigningKey{method: jwt.SigningMethodHS256, signKey: b, verifyKey: b}, nil
}

// NewAsymmetricKey returns an RS256 or ES256 signing key for the given pair. pub may be nil, in which
// case the signer's public half is used.
func NewAsymmetricKey(priv crypto.Signer, pub crypto.PublicKey) (SigningKey, error) {
	if priv == nil {
		return SigningKey{}, ErrInvalidKey
	}
	if pub == nil {
		pub = priv.Public()
	}
	switch priv.Public().(type) {
	case *rsa.PublicKey:
		return SigningKey{method: jwt.SigningMethodRS256, signKey: priv, verifyKey: pub}, nil
	case *ecdsa.PublicKey:
		return SigningKey{method: jwt.SigningMethodES256, signKey: priv, verifyKey: pub}, nil
	default:
		return SigningKey{}, ErrInvalidKey
	}
}

// LoadSigningKey picks the signing key from configuration: a PEM private key (inline or path) wins over the
// shared secret. With neither set it returns a ConfigurationError.
func LoadSigningKey(secret, privatePEM, publicPEM string) (SigningKey, error) {
	if strings.TrimSpace(privatePEM) != "" {
		priv, err := ParsePrivateKey(privatePEM)
		if err != nil {
			return SigningKey{}, autherr.NewConfigurationError("JWT_PRIVATE_KEY", err.Error())
		}
		var pub crypto.PublicKey
		if strings.TrimSpace(publicPEM) != "" {
			pub, err = ParsePublicKey(publicPEM)
			if err != nil {
				return SigningKey{}, autherr.NewConfigurationError("JWT_PUBLIC_KEY", err.Error())
			}
		}
		return NewAsymmetricKey(priv, pub)
	}
	return NewHMACKey(secret)
}

// LoadPEM reads content from path if s does not look like inline PEM; otherwise returns s as bytes.
// Literal "\n" sequences in inline PEM (common in env files) are turned into newlines.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

// ParsePrivateKey parses a PEM-encoded private key (RSA or ECDSA). s may be inline PEM or a file path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// ParsePublicKey parses a PEM-encoded public key (RSA or ECDSA). s may be inline PEM or a file path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}
