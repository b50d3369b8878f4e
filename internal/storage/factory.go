package storage

import (
	"fmt"

	"github.com/openharbor/chunkstream/pkg/config"
)

// StorageFactory creates storage instances based on configuration
type StorageFactory struct {
	config *config.StorageConfig
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(config *config.StorageConfig) *StorageFactory {
	return &StorageFactory{config: config}
}

// CreateStorage creates a storage instance based on the configured type
func (sf *StorageFactory) CreateStorage() (ChunkStorage, error) {
	switch sf.config.Type {
	case "local":
		return NewLocalStorage(sf.config.LocalPath)
	case "s3":
		return nil, fmt.Errorf("S3 storage not yet implemented")
	case "gcs":
		return nil, fmt.Errorf("GCS storage not yet implemented")
	case "azure":
		return nil, fmt.Errorf("Azure storage not yet implemented")
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", sf.config.Type)
	}
}
