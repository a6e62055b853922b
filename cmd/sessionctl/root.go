package main

import (
	"fmt"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/logging"
	"github.com/jrsteele09/go-auth-session/provider/oidcclient"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app is everything a command needs, built once per invocation.
type app struct {
	cfg         config.Config
	logger      zerolog.Logger
	coordinator *auth.Coordinator
}

var current *app

var rootCmd = &cobra.Command{
	Use:   "sessionctl",
	Short: "Sign in to an OpenID Connect provider and manage the cached session",
	Long: `sessionctl signs a user in through the system browser, keeps the resulting tokens
in the OS keyring and hands out access tokens for the configured API scope.

Configuration comes from the environment (AUTH_AUTHORITY, AUTH_CLIENT_ID,
AUTH_REDIRECT_URI, API_CLIENT_ID, ...).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == cmd.Root() {
			return nil
		}
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		displayAppname(config.New().GetAppName())
		return cmd.Help()
	},
}

// newApp wires configuration, the token cache, the OIDC client and the coordinator, then
// reconciles the session with the cache.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg := config.New()
	logger := logging.Setup(cfg.GetLogLevel(), cfg.GetEnv())

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var cache token.Cache
	keyringCache, err := token.OpenKeyringCache(token.KeyringOptions{
		Backend:  cfg.GetKeyringBackend(),
		FileDir:  cfg.GetKeyringDir(),
		Password: cfg.GetKeyringPassword(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("OS keyring unavailable, the session will not survive this process")
		cache = token.NewInMemoryCache()
	} else {
		cache = keyringCache
	}

	client, err := oidcclient.New(oidcclient.Config{
		Authority:    cfg.GetAuthority(),
		ClientID:     cfg.GetClientID(),
		ClientSecret: cfg.GetClientSecret(),
		RedirectURL:  cfg.GetRedirectURI(),
	},
		oidcclient.WithCache(cache),
		oidcclient.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("oidc client: %w", err)
	}

	coordinator, err := auth.NewCoordinator(client, cfg, auth.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	coordinator.Start(cmd.Context())

	return &app{cfg: cfg, logger: logger, coordinator: coordinator}, nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd, tokenCmd, clearCacheCmd, apiTestCmd)
}
