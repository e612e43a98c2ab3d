package blob

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

var ErrObjectNotFound = errors.New("object not found")

// Bucket is a flat namespace of named blobs.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

const AvatarContentType = "image/png"

func AvatarKey(userID int64) string {
	return "avatars/" + strconv.FormatInt(userID, 10) + ".png"
}

type MemoryBucket struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{objects: make(map[string][]byte)}
}

func (b *MemoryBucket) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBucket) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBucket) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *MemoryBucket) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(b.objects, key)
	return nil
}
