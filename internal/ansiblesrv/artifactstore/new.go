package artifactstore

import (
	"context"
	"fmt"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
)

// New returns the store selected by the storage configuration.
func New(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	switch cfg.Type {
	case config.StorageTypeFilesystem, "":
		return NewFilesystem(cfg.Root)
	case config.StorageTypeS3:
		return NewS3(ctx, cfg.S3)
	case config.StorageTypeMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}
