// Package blob provides engine.BlobStore implementations for report photos
// and attachments.
package blob

import (
	"context"
	"fmt"

	"github.com/warp/fieldservice-engine/engine"
)

// Driver selects a backend.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverS3     Driver = "s3"
)

// Config selects and configures a backend.
type Config struct {
	Driver Driver
	S3     S3Config
}

// Open returns the configured store. An empty driver means memory.
func Open(ctx context.Context, cfg Config) (engine.BlobStore, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
