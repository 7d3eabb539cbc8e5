package rag

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrInvalidSessionToken = errors.New("invalid session token")

// characters that make an index name address more than one index or a path
const forbiddenTokenChars = `*?,/\"<>|#:`

// checkToken rejects tokens the store would read as a multi-index expression
// or a reserved name. A token always names exactly one index.
func checkToken(token string) error {
	switch {
	case token == "", token == ".", token == "..", token == "_all":
		return fmt.Errorf("%w: %q", ErrInvalidSessionToken, token)
	case strings.ContainsAny(token[:1], "_-+"):
		return fmt.Errorf("%w: %q must not start with %q", ErrInvalidSessionToken, token, token[:1])
	case strings.ContainsAny(token, forbiddenTokenChars):
		return fmt.Errorf("%w: %q contains one of %s", ErrInvalidSessionToken, token, forbiddenTokenChars)
	case strings.IndexFunc(token, unicode.IsSpace) >= 0:
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidSessionToken, token)
	}
	return nil
}
