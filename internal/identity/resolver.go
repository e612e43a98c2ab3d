// Package identity maps bearer tokens to the stored user they belong to.
package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/elkanatum/tarpaulin-api/internal/auth"
	"github.com/elkanatum/tarpaulin-api/internal/model"
)

var ErrUnauthorized = errors.New("unauthorized")

type Principal struct {
	Claims *auth.Claims
	User   model.User
}

// UserFinder is the slice of the store the resolver needs.
type UserFinder interface {
	FindUsersBySubject(ctx context.Context, subject string) ([]model.User, error)
}

type Resolver struct {
	decoder auth.Decoder
	users   UserFinder
	cache   UserCache
	logger  *zap.Logger
}

// NewResolver builds a resolver. cache may be nil.
func NewResolver(decoder auth.Decoder, users UserFinder, cache UserCache, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{decoder: decoder, users: users, cache: cache, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims, err := r.decoder.Decode(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, ErrUnauthorized
	}

	if r.cache != nil {
		user, ok, err := r.cache.Get(ctx, claims.Subject)
		if err != nil {
			r.logger.Warn("identity cache read failed", zap.Error(err))
		} else if ok {
			return &Principal{Claims: claims, User: user}, nil
		}
	}

	users, err := r.users.FindUsersBySubject(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("find user by subject: %w", err)
	}
	if len(users) == 0 {
		return nil, ErrUnauthorized
	}
	user := users[0]

	if r.cache != nil {
		if err := r.cache.Set(ctx, user); err != nil {
			r.logger.Warn("identity cache write failed", zap.Error(err))
		}
	}
	return &Principal{Claims: claims, User: user}, nil
}
