package memorystore

import (
	"context"
	"fmt"
	"sync"
)

// Uploads holds raw recipient lists keyed by reference.
type Uploads struct {
	mu    sync.RWMutex
	lists map[string]string
}

func NewUploads() *Uploads {
	return &Uploads{lists: make(map[string]string)}
}

func (u *Uploads) Put(ref, contents string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lists[ref] = contents
}

func (u *Uploads) Fetch(ctx context.Context, ref string) (string, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	contents, ok := u.lists[ref]
	if !ok {
		return "", fmt.Errorf("upload %s not found", ref)
	}
	return contents, nil
}
