package auth

import (
	"encoding/json"
	"fmt"
)

// User is a concrete UserInfo backed by a claims map. It is the result type
// shared by the jwtauth validators and test doubles.
type User struct {
	Subject   string
	ClaimsMap map[string]any
}

var _ UserInfo = (*User)(nil)

func (u *User) UserID() string { return u.Subject }

func (u *User) Claims(ref any) error {
	b, err := json.Marshal(u.ClaimsMap)
	if err != nil {
		return fmt.Errorf("failed to marshal claims: %w", err)
	}
	if err := json.Unmarshal(b, ref); err != nil {
		return fmt.Errorf("failed to unmarshal claims: %w", err)
	}
	return nil
}
