package http

import (
	"fmt"
	"io"
	"net/http"

	"github.com/elkanatum/tarpaulin-api/internal/authz"
	"github.com/elkanatum/tarpaulin-api/internal/blob"
)

const maxAvatarBytes = 10 << 20

// avatarTarget is the path user id. Unparseable ids map to 0, which no
// requester owns.
func avatarTarget(r *http.Request) authz.Target {
	id, _ := pathID(r, "userId")
	return authz.Target{UserID: id}
}

// handleCreateAvatar validates the upload before authenticating, so a
// missing or empty file is reported as 400 even without credentials.
func (s *Server) handleCreateAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes)
	file, header, err := r.FormFile("file")
	if err != nil || header.Filename == "" || header.Size == 0 {
		s.writeAppError(w, r, errInvalidBody)
		return
	}
	defer file.Close()

	principal, err := s.authenticate(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	r = r.WithContext(withPrincipal(r.Context(), principal))
	target := avatarTarget(r)
	if !s.authorize(w, r, authz.CreateAvatar, target) {
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeAppError(w, r, fmt.Errorf("%w: %v", errInvalidBody, err))
		return
	}
	if err := s.bucket.Put(r.Context(), blob.AvatarKey(target.UserID), data, blob.AvatarContentType); err != nil {
		s.writeAppError(w, r, fmt.Errorf("store avatar: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"avatar_url": s.avatarURL(r, target.UserID)})
}

func (s *Server) handleGetAvatar(w http.ResponseWriter, r *http.Request) {
	target := avatarTarget(r)
	if !s.authorize(w, r, authz.GetAvatar, target) {
		return
	}
	data, err := s.bucket.Get(r.Context(), blob.AvatarKey(target.UserID))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", blob.AvatarContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDeleteAvatar(w http.ResponseWriter, r *http.Request) {
	target := avatarTarget(r)
	if !s.authorize(w, r, authz.DeleteAvatar, target) {
		return
	}
	if err := s.bucket.Delete(r.Context(), blob.AvatarKey(target.UserID)); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
