package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/medipanel/medigate/internal/credstore"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "show the stored session",
		Action: statusAction,
	}
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flush, err := instrument(cfg)
	if err != nil {
		return err
	}
	defer flush()

	store, err := cfg.Auth.NewCredentialStore()
	if err != nil {
		return fmt.Errorf("building credential store: %w", err)
	}

	session, err := store.Load(ctx)
	switch {
	case errors.Is(err, credstore.ErrNoSession):
		fmt.Println("Not signed in.")
		return nil
	case errors.Is(err, credstore.ErrDeviceMismatch):
		fmt.Println("A session exists but was saved by another device. Run 'medigate login' to replace it.")
		return nil
	case err != nil:
		return fmt.Errorf("reading stored session: %w", err)
	}

	principal := session.Principal
	if principal.Name != "" {
		fmt.Printf("Signed in as %s <%s>", principal.Name, principal.Email)
	} else {
		fmt.Printf("Signed in as %s", principal.Email)
	}
	if principal.Role != "" {
		fmt.Printf(" (%s)", principal.Role)
	}
	fmt.Println()

	fmt.Printf("Storage: %s\n", cfg.Auth.Storage)

	switch expiry := session.Expiry(); {
	case expiry.IsZero():
		fmt.Println("Access token: no expiry recorded")
	case time.Now().After(expiry):
		fmt.Printf("Access token: expired %s, refreshes on next request\n", expiry.Format(time.RFC3339))
	default:
		fmt.Printf("Access token: valid until %s (%s)\n",
			expiry.Format(time.RFC3339), time.Until(expiry).Round(time.Second))
	}

	if !session.HasRefreshToken() {
		fmt.Println("No refresh token stored, the session ends when the access token does.")
	}

	return nil
}
