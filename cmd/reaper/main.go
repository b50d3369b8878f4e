package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/openharbor/chunkstream/internal/common"
	"github.com/openharbor/chunkstream/internal/storage"
	"github.com/openharbor/chunkstream/internal/uploads"
	"github.com/openharbor/chunkstream/pkg/config"
	"github.com/openharbor/chunkstream/pkg/types"
	"github.com/rs/zerolog/log"
)

// reaper deletes upload sessions that outlived their TTL, removing the
// blob and the record together. Run it from cron or a scheduler.
func main() {
	dryRun := flag.Bool("dry-run", false, "List expired uploads without deleting them")
	flag.Parse()

	// Load configuration
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	var cache *common.Cache
	if cfg.Upload.Guard == "redis" {
		cache, err = common.NewCache(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer cache.Close()
	}

	storageFactory := storage.NewStorageFactory(&cfg.Storage)
	chunkStorage, err := storageFactory.CreateStorage()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	guard, err := uploads.NewGuard(&cfg.Upload, cache)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize concurrency guard")
	}
	var snapshots uploads.SnapshotCache
	if cache != nil {
		snapshots = cache
	}
	service := uploads.NewService(db, chunkStorage, guard, snapshots, &cfg.Upload)

	ctx := context.Background()
	now := time.Now().UTC()

	if *dryRun {
		expired, err := service.Store.FindCreatedBefore(ctx, now.Add(-cfg.Upload.TTL))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to find expired uploads")
		}
		for _, upload := range expired {
			fmt.Printf("%s\t%s\t%s\t%d bytes\n", upload.ID, upload.Status, upload.Filename, upload.Offset)
		}
		fmt.Printf("%d uploads would be deleted\n", len(expired))
		return
	}

	result, err := service.DeleteExpired(ctx, now)
	if err != nil {
		log.Fatal().Err(err).Msg("sweep failed")
	}

	fmt.Printf("deleted upload ids: %v\n", result.Deleted)
	fmt.Printf("%d complete uploads were deleted\n", result.ByStatus[types.StatusComplete])
	fmt.Printf("%d incomplete uploads were deleted\n", result.ByStatus[types.StatusUploading])
	fmt.Printf("%d expired uploads were deleted\n", result.ByStatus[types.StatusExpired])
}
