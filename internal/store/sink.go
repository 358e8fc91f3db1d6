// Package store persists decoded records. A Sink takes one record at a time
// and must be safe for concurrent use by independent sessions.
package store

import (
	"context"

	"gps-svr/internal/codec"
)

type Sink interface {
	Name() string
	Record(ctx context.Context, rec *codec.Record) error
}
