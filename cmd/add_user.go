package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"wallet-engine/internal/config"
	"wallet-engine/internal/database"
	"wallet-engine/internal/logger"
)

// runAddUser creates a user without a wallet. Registration proper lives
// elsewhere; this is for local setups.
func runAddUser(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("add-user", flag.ContinueOnError)
	email := fs.String("email", "", "email of the new user")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("-email is required")
	}

	if err := database.InitDB(cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	if err := database.RunMigrations(database.DB, cfg.Database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	user, err := database.NewUserStore(database.DB).CreateUser(context.Background(), *email, "")
	if err != nil {
		return err
	}

	logger.GetLogger().Info().
		Str("id", user.ID).
		Str("email", user.Email).
		Msg("User created")
	fmt.Println(user.ID)
	return nil
}
