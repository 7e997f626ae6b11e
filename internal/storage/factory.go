package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/storage/badger"
)

// NewStorageManager creates the storage manager. Badger is the only backend;
// the REDIS_URL-style KV URL in config resolves to a Badger directory path.
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	return badger.NewManager(logger, &config.Storage.Badger)
}
