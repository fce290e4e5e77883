package transport

import "github.com/google/uuid"

// TokenSource mints opaque session tokens. Tokens must be unguessable and
// effectively unique; the router collision-checks each minted token against
// the registry before use and treats an insert-time collision as a fatal
// invariant violation.
type TokenSource func() string

func defaultTokenSource() string {
	return uuid.NewString()
}
