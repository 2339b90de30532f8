package app

import (
	"fmt"

	"price-tracker/internal/storage"
)

// Migrate applies (up) or rolls back one step of (down) the embedded schema migrations.
func (a *App) Migrate(direction storage.MigrateDirection) error {
	if a.Config.Database.DSN == "" {
		return fmt.Errorf("database.dsn not configured: %w", storage.ErrNotConfigured)
	}

	changed, err := storage.Migrate(a.Config.Database.DSN, direction)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Fprintln(a.Out, "no change")
		return nil
	}
	fmt.Fprintf(a.Out, "migrate %s applied\n", direction)
	a.Logger.Info().Str("direction", string(direction)).Msg("schema migrated")
	return nil
}
