package http

import (
	"context"
	"net/http"

	"github.com/elkanatum/tarpaulin-api/internal/auth"
	"github.com/elkanatum/tarpaulin-api/internal/authz"
	"github.com/elkanatum/tarpaulin-api/internal/identity"
	"github.com/elkanatum/tarpaulin-api/internal/model"
)

type principalKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.authenticate(r)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

func (s *Server) authenticate(r *http.Request) (*identity.Principal, error) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, identity.ErrUnauthorized
	}
	return s.resolver.Resolve(r.Context(), token)
}

func withPrincipal(ctx context.Context, principal *identity.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func principalFromContext(ctx context.Context) *identity.Principal {
	principal, _ := ctx.Value(principalKey{}).(*identity.Principal)
	return principal
}

// authorize evaluates the decision for the request's principal and writes a
// 403 when it is denied.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, action authz.Action, target authz.Target) bool {
	var requester *model.User
	if principal := principalFromContext(r.Context()); principal != nil {
		requester = &principal.User
	}
	decision := authz.Authorize(requester, action, target)
	if !decision.Allowed {
		s.metrics.denied(action)
		s.writeAppError(w, r, decision.Err())
		return false
	}
	return true
}
