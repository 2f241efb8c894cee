package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxClaims ctxKey = iota

var ErrNoIdentity = errors.New("auth: no identity in context")

func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, ctxClaims, c)
}

func ClaimsFrom(ctx context.Context) (Claims, error) {
	if c, ok := ctx.Value(ctxClaims).(Claims); ok && c.UserID != "" {
		return c, nil
	}
	return Claims{}, ErrNoIdentity
}

func UserID(ctx context.Context) (string, error) {
	c, err := ClaimsFrom(ctx)
	if err != nil {
		return "", err
	}
	return c.UserID, nil
}
