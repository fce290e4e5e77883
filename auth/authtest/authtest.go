// Package authtest provides trivial Authenticator implementations for tests.
package authtest

import (
	"context"
	"fmt"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/auth"
)

// AllowAll admits every request as the configured subject.
type AllowAll struct {
	Subject string
}

var _ auth.Authenticator = (*AllowAll)(nil)

func (a *AllowAll) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	sub := a.Subject
	if sub == "" {
		sub = "test-user"
	}
	return &auth.User{Subject: sub}, nil
}

// StaticToken admits only the configured token value.
type StaticToken struct {
	Token   string
	Subject string
}

var _ auth.Authenticator = (*StaticToken)(nil)

func (a *StaticToken) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	if tok != a.Token {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	return &auth.User{Subject: a.Subject}, nil
}
