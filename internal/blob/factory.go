package blob

import (
	"context"
	"fmt"

	"aquawatch/internal/infra/blob/fs"
	memorystore "aquawatch/internal/infra/blob/memory"
	infraS3 "aquawatch/internal/infra/blob/s3"
)

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// Config selects and configures a driver. It is populated from the blob
// section of the aquawatch configuration (AQUAWATCH_BLOB_DRIVER and friends).
type Config struct {
	Driver string
	FSRoot string
	S3     S3Config
}

// Open builds the configured Store. The default driver is fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewFilesystem constructs a filesystem-backed Store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed Store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewFakeS3 returns an S3 Store served by an in-process bucket. Tests use it
// to exercise the S3 driver without a network.
func NewFakeS3(bucket string) Store { return infraS3.NewFake(bucket) }
