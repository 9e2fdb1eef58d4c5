package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/medipanel/medigate/internal/app"
	"github.com/medipanel/medigate/internal/authapi"
	"github.com/medipanel/medigate/internal/credstore"
	"github.com/medipanel/medigate/internal/pipeline"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in to Medipanel and store the session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "email",
				Usage: "account email (prompted when omitted)",
			},
		},
		Action: loginAction,
	}
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flush, err := instrument(cfg)
	if err != nil {
		return err
	}
	defer flush()

	email := cmd.String("email")
	if email == "" {
		if email, err = promptLine("Email: "); err != nil {
			return err
		}
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}

	store, client, err := buildAuthStack(cfg)
	if err != nil {
		return err
	}

	grant, err := client.Login(ctx, email, password)
	if err != nil {
		var credErr *pipeline.CredentialsError
		if errors.As(err, &credErr) {
			return fmt.Errorf("login rejected: %s", credErr.Message)
		}
		var disabledErr *pipeline.AccountDisabledError
		if errors.As(err, &disabledErr) {
			return fmt.Errorf("account disabled: %s", disabledErr.Message)
		}
		return fmt.Errorf("login failed: %w", err)
	}

	if err := store.Save(ctx, grant.Session(time.Now())); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}

	fmt.Printf("Signed in as %s.\n", grant.User.Email)

	return nil
}

// buildAuthStack assembles the credential store and the account client the
// CLI commands share. The client rides the authenticated pipeline so its
// errors come back typed: a rejected login is a credentials error, not a
// grant that failed to decode.
func buildAuthStack(cfg *app.Config) (*credstore.Store, *authapi.Client, error) {
	store, err := cfg.Auth.NewCredentialStore()
	if err != nil {
		return nil, nil, fmt.Errorf("building credential store: %w", err)
	}

	refresher, err := authapi.NewRefreshClient(cfg.Upstream.BaseURL,
		authapi.WithRefreshTimeout(cfg.Auth.RequestTimeout))
	if err != nil {
		return nil, nil, fmt.Errorf("building refresh client: %w", err)
	}

	transport, err := pipeline.New(store, refresher,
		pipeline.WithRoutes(cfg.Auth.Routes()),
		pipeline.WithLeadTime(cfg.Auth.RefreshLeadTime),
		pipeline.WithRequestTimeout(cfg.Auth.RequestTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("building request pipeline: %w", err)
	}

	client, err := authapi.NewClient(cfg.Upstream.BaseURL, pipeline.NewClient(transport))
	if err != nil {
		return nil, nil, fmt.Errorf("building account client: %w", err)
	}

	return store, client, nil
}

// stdin is shared across prompts so buffered read-ahead from one prompt is
// not lost before the next, which matters for piped input.
var stdin = bufio.NewReader(os.Stdin)

func promptLine(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	return readLine()
}

// promptPassword reads without echo when stdin is a terminal and falls back
// to a plain line read for piped input.
func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(raw), nil
	}

	return readLine()
}

func readLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
