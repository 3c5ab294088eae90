// Package store remembers the player id between runs so a dropped session
// can be resumed.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupported = errors.New("unsupported store")

// PlayerStore persists at most one player id. PlayerID returns "" when
// nothing is stored.
type PlayerStore interface {
	PlayerID(ctx context.Context) (string, error)
	SavePlayerID(ctx context.Context, id string) error
	ClearPlayerID(ctx context.Context) error
	Close() error
}

// Open picks an implementation from dsn: "file:<path>" or a postgres URL.
func Open(ctx context.Context, dsn string) (PlayerStore, error) {
	switch {
	case strings.HasPrefix(dsn, "file:"):
		return NewFileStore(strings.TrimPrefix(dsn, "file:")), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		gs, err := OpenGorm(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return gs, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, dsn)
	}
}
