package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
)

const (
	verificationCodeDigits = 6
	resetTokenBytes        = 32
)

// Character classes used by GenerateTemporaryPassword.
const (
	upperChars       = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars       = "abcdefghijkmnopqrstuvwxyz"
	digitChars       = "23456789"
	tempSpecialChars = "!@#$%^&*-_=+?"
)

// GenerateCode returns a 6-digit numeric email verification code (e.g. "042917").
func GenerateCode() (string, error) {
	s := make([]byte, verificationCodeDigits)
	for i := range s {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		s[i] = byte('0' + n.Int64())
	}
	return string(s), nil
}

// GenerateResetToken returns a 64-character hex password-reset token.
func GenerateResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateTemporaryPassword returns a random password of the given length (at least 8) that
// contains every character class and therefore always passes ScorePassword.
func GenerateTemporaryPassword(length int) (string, error) {
	if length < MinPasswordLength {
		length = MinPasswordLength
	}
	all := upperChars + lowerChars + digitChars + tempSpecialChars
	out := make([]byte, length)
	for i, set := range []string{upperChars, lowerChars, digitChars, tempSpecialChars} {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	for i := 4; i < length; i++ {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	// Fisher–Yates so the guaranteed classes are not always in front.
	for i := length - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}

// HashToken returns the hex SHA-256 of a bearer secret (session token, reset token, verification
// code). Only digests are stored.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual compares the digest of provided with storedHash in constant time.
func TokenHashEqual(provided, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(provided)), []byte(storedHash)) == 1
}
