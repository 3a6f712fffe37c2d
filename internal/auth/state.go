package auth

import (
	"strings"

	"github.com/rs/xid"
)

// StateSeparator splits the namespace prefix from the random part of an OAuth
// state token. The callback host uses the prefix to route the callback to the
// deployment that started the flow.
const StateSeparator = "_"

// GenerateState returns a new OAuth state token of the form
// "<namespace>_<random>".
//
// CSRF PROTECTION VIA STATE:
// The token is stored in the session's pending OAuth context before the
// browser is redirected to GitHub. When GitHub calls back, the callback
// handler compares the returned state against the stored one — a mismatch
// means the callback was not initiated by this session.
//
// The random part is an xid (e.g. "cv37rs3pp9olc6atsptg"). xid's base32
// alphabet cannot produce the separator byte, but the codec strips it anyway:
// a separator inside the random part would make the namespace prefix
// ambiguous to anything that parses the token.
func GenerateState(namespace string) string {
	random := strings.ReplaceAll(xid.New().String(), StateSeparator, "")
	return namespace + StateSeparator + random
}

// ValidateState reports whether a received state matches the expected pending
// state. Exact string equality only — no prefix or partial matches. An empty
// expected value means there is no pending flow, which is always invalid.
func ValidateState(received, expected string) bool {
	if expected == "" {
		return false
	}
	return received == expected
}
