package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/medipanel/medigate/internal/credstore"
)

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "end the session on Medipanel and remove stored credentials",
		Action: logoutAction,
	}
}

func logoutAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flush, err := instrument(cfg)
	if err != nil {
		return err
	}
	defer flush()

	store, client, err := buildAuthStack(cfg)
	if err != nil {
		return err
	}

	// Server-side logout is best effort. Local credentials go regardless, so
	// a dead platform cannot trap the machine in a signed-in state.
	switch _, err := store.Load(ctx); {
	case err == nil:
		if err := client.Logout(ctx); err != nil {
			slog.WarnContext(ctx, "platform logout failed, clearing local session anyway", "error", err)
		}
	case errors.Is(err, credstore.ErrNoSession):
		fmt.Println("Not signed in.")
		return nil
	}

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing stored session: %w", err)
	}

	fmt.Println("Signed out.")

	return nil
}
