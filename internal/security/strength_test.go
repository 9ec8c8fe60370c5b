package security

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"multi-entity-auth/backend/internal/autherr"
)

func TestScorePassword(t *testing.T) {
	tests := []struct {
		name      string
		password  string
		wantValid bool
		wantScore int
		wantErrs  []string
	}{
		{"all rules", "P@ssw0rd1", true, 5, nil},
		{"register scenario", "Str0ng!Pass", true, 5, nil},
		{"lowercase only", "password", false, 2, []string{MsgPasswordNoUpper, MsgPasswordNoDigit, MsgPasswordNoSpecial}},
		{"empty", "", false, 0, []string{MsgPasswordTooShort, MsgPasswordNoUpper, MsgPasswordNoLower, MsgPasswordNoDigit, MsgPasswordNoSpecial}},
		{"short but varied", "P@s0", false, 4, []string{MsgPasswordTooShort}},
		{"space in strong", "P@ss w0rd1", false, 4, []string{MsgPasswordWhitespace}},
		{"tab counts as whitespace", "P@ss\tw0rd1", false, 4, []string{MsgPasswordWhitespace}},
		{"only spaces", "        ", false, 0, []string{MsgPasswordNoUpper, MsgPasswordNoLower, MsgPasswordNoDigit, MsgPasswordNoSpecial, MsgPasswordWhitespace}},
		{"no special", "Passw0rd1", false, 4, []string{MsgPasswordNoSpecial}},
		{"backtick is special", "Passw0rd`", true, 5, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScorePassword(tt.password)
			if got.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v", got.Valid, tt.wantValid)
			}
			if got.Score != tt.wantScore {
				t.Errorf("Score = %d, want %d", got.Score, tt.wantScore)
			}
			if !reflect.DeepEqual(got.Errors, tt.wantErrs) {
				t.Errorf("Errors = %v, want %v", got.Errors, tt.wantErrs)
			}
		})
	}
}

func TestScorePassword_WhitespaceAlwaysInvalid(t *testing.T) {
	for _, p := range []string{"Aa1!aaaa ", " Aa1!aaaa", "Aa1! Aa1! Aa1!"} {
		if ScorePassword(p).Valid {
			t.Errorf("%q contains whitespace and must be invalid", p)
		}
	}
}

func TestScorePassword_ScoreRange(t *testing.T) {
	for _, p := range []string{"", " ", "a", "A1!a b c d e f", "ÄÖÜäöü12!!"} {
		s := ScorePassword(p).Score
		if s < 0 || s > MaxStrengthScore {
			t.Errorf("Score(%q) = %d out of range", p, s)
		}
	}
}

func TestCheckPassword_ByteLimit(t *testing.T) {
	atLimit := "Aa1!" + strings.Repeat("x", MaxPasswordBytes-4)
	if _, err := CheckPassword(atLimit); err != nil {
		t.Fatalf("72-byte password: %v", err)
	}

	tooLong := "Aa1!" + strings.Repeat("x", 80)
	st, err := CheckPassword(tooLong)
	var weak *autherr.WeakPasswordError
	if !errors.As(err, &weak) {
		t.Fatalf("want WeakPasswordError, got %v", err)
	}
	if !reflect.DeepEqual(weak.Errors, []string{MsgPasswordTooLong}) {
		t.Errorf("Errors = %v, want only the length violation", weak.Errors)
	}
	if st.Score != MaxStrengthScore || weak.Score != MaxStrengthScore {
		t.Errorf("score = %d/%d, the byte limit must not change the score", st.Score, weak.Score)
	}

	// Multi-byte runes count in bytes: 20 four-byte runes exceed the limit.
	if _, err := CheckPassword("Aa1!" + strings.Repeat("\U0001F600", 20)); !errors.Is(err, autherr.ErrWeakPassword) {
		t.Errorf("multi-byte overflow: want ErrWeakPassword, got %v", err)
	}
}
