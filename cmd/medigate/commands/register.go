package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/medipanel/medigate/internal/authapi"
	"github.com/medipanel/medigate/internal/pipeline"
)

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "create a Medipanel account and sign in",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "email",
				Usage: "account email (prompted when omitted)",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "display name (prompted when omitted)",
			},
			&cli.StringFlag{
				Name:  "role",
				Usage: "account role (doctor|hospital)",
				Value: "doctor",
			},
		},
		Action: registerAction,
	}
}

func registerAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flush, err := instrument(cfg)
	if err != nil {
		return err
	}
	defer flush()

	reg := authapi.Registration{
		Email: cmd.String("email"),
		Name:  cmd.String("name"),
		Role:  cmd.String("role"),
	}
	if reg.Email == "" {
		if reg.Email, err = promptLine("Email: "); err != nil {
			return err
		}
	}
	if reg.Name == "" {
		if reg.Name, err = promptLine("Name: "); err != nil {
			return err
		}
	}
	if reg.Password, err = promptPassword("Password: "); err != nil {
		return err
	}

	store, client, err := buildAuthStack(cfg)
	if err != nil {
		return err
	}

	grant, err := client.Register(ctx, reg)
	if err != nil {
		var credErr *pipeline.CredentialsError
		if errors.As(err, &credErr) {
			return fmt.Errorf("registration rejected: %s", credErr.Message)
		}
		return fmt.Errorf("registration failed: %w", err)
	}

	if err := store.Save(ctx, grant.Session(time.Now())); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}

	fmt.Printf("Account created, signed in as %s.\n", grant.User.Email)

	return nil
}
