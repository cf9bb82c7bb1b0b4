package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warp/retail-records/config"
	"github.com/warp/retail-records/retail"
	"github.com/warp/retail-records/retail/store"
	"github.com/warp/retail-records/store/dynamo"
	"github.com/warp/retail-records/store/sqlite"
)

// openBackend connects the storage driver named in cfg.
func openBackend(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (retail.Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Info("using in-memory storage")
		return store.NewMemory(), nil

	case config.DriverSQLite:
		logger.Info("opening database", "path", cfg.SQLitePath)
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverDynamoDB:
		logger.Info("connecting to DynamoDB",
			"region", cfg.DynamoDB.Region,
			"endpoint", cfg.DynamoDB.Endpoint,
			"prefix", cfg.DynamoDB.TablePrefix)
		s, err := dynamo.Open(ctx, dynamo.Options{
			Region:       cfg.DynamoDB.Region,
			Endpoint:     cfg.DynamoDB.Endpoint,
			TablePrefix:  cfg.DynamoDB.TablePrefix,
			CreateTables: cfg.DynamoDB.CreateTables,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
