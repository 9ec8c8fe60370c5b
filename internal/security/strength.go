package security

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"multi-entity-auth/backend/internal/autherr"
)

// SpecialCharacters is the set that satisfies the "special character" rule.
const SpecialCharacters = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"

// MinPasswordLength is the minimum length in characters (runes).
const MinPasswordLength = 8

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// MaxStrengthScore is the highest score ScorePassword returns.
const MaxStrengthScore = 5

// Strength policy messages, in the order ScorePassword reports them.
const (
	MsgPasswordTooShort   = "password must be at least 8 characters long"
	MsgPasswordNoUpper    = "password must contain at least one uppercase letter"
	MsgPasswordNoLower    = "password must contain at least one lowercase letter"
	MsgPasswordNoDigit    = "password must contain at least one number"
	MsgPasswordNoSpecial  = "password must contain at least one special character"
	MsgPasswordWhitespace = "password must not contain spaces"
	MsgPasswordTooLong    = "password must be at most 72 bytes"
)

// Strength is the outcome of ScorePassword.
type Strength struct {
	Valid  bool
	Errors []string
	Score  int
}

// ScorePassword scores p from 0 to 5: +1 each for length >= 8, an uppercase letter, a lowercase
// letter, a digit and a special character; -1 for any whitespace; clamped to [0,5]. Valid only
// when every rule holds and there is no whitespace.
func ScorePassword(p string) Strength {
	var hasUpper, hasLower, hasDigit, hasSpecial, hasSpace bool
	for _, r := range p {
		switch {
		case unicode.IsSpace(r):
			hasSpace = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(SpecialCharacters, r):
			hasSpecial = true
		}
	}

	var errs []string
	score := 0
	check := func(ok bool, msg string) {
		if ok {
			score++
			return
		}
		errs = append(errs, msg)
	}
	check(utf8.RuneCountInString(p) >= MinPasswordLength, MsgPasswordTooShort)
	check(hasUpper, MsgPasswordNoUpper)
	check(hasLower, MsgPasswordNoLower)
	check(hasDigit, MsgPasswordNoDigit)
	check(hasSpecial, MsgPasswordNoSpecial)
	if hasSpace {
		score--
		errs = append(errs, MsgPasswordWhitespace)
	}

	if score < 0 {
		score = 0
	}
	if score > MaxStrengthScore {
		score = MaxStrengthScore
	}
	return Strength{Valid: len(errs) == 0, Errors: errs, Score: score}
}

// CheckPassword scores p and also enforces MaxPasswordBytes, which the score ignores. A failing
// password yields an *autherr.WeakPasswordError carrying every violation.
func CheckPassword(p string) (Strength, error) {
	st := ScorePassword(p)
	if len(p) > MaxPasswordBytes {
		st.Valid = false
		st.Errors = append(st.Errors, MsgPasswordTooLong)
	}
	if !st.Valid {
		return st, &autherr.WeakPasswordError{Errors: st.Errors, Score: st.Score}
	}
	return st, nil
}
