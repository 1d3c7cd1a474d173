package gateway

import (
	"fmt"

	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/rs/zerolog/log"
)

// OpenStore opens the backend selected by the config mode and brings its schema up to date.
// Local mode uses SQLite, remote mode uses Postgres.
func OpenStore(config types.AppConfig) (repository.Store, error) {
	if config.IsLocalMode() {
		store, err := repository.NewSQLiteStore(config.Database.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	}

	if config.Database.Postgres.Host == "" {
		return nil, fmt.Errorf("remote mode requires database.postgres.host")
	}

	store, err := repository.NewPostgresStore(config.Database.Postgres)
	if err != nil {
		return nil, err
	}
	if err := store.RunMigrations(); err != nil {
		store.Close()
		return nil, err
	}

	log.Info().Str("mode", config.Mode).Msg("store ready")
	return store, nil
}
