// Package session keeps per-browser console state between requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const DefaultTTL = 12 * time.Hour

var ErrEmptyID = errors.New("session id is empty")

// Store holds encoded console state by session id.
type Store interface {
	// Get returns nil, nil when the session does not exist or has expired.
	Get(ctx context.Context, id string) ([]byte, error)
	Set(ctx context.Context, id string, data []byte) error
	Delete(ctx context.Context, id string) error
}

// Key builds the storage key for a session id.
func Key(id string) string {
	return fmt.Sprintf("console:session:%s", id)
}
