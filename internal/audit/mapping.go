package audit

import (
	"strings"
	"unicode"
)

// MethodName returns the snake_case RPC name of a gRPC full method
// (e.g. /auth.v1.AuthService/PurgeExpiredSessions -> purge_expired_sessions).
func MethodName(fullMethod string) string {
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 || slash == len(fullMethod)-1 {
		return "unknown"
	}
	var b strings.Builder
	for i, r := range fullMethod[slash+1:] {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
