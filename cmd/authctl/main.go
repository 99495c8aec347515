// authctl drives the tutoring-marketplace session client from the
// command line: login, register, inspect the session, switch the active
// role, and log out.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tutorlink/auth-client/internal/core/ports"
	"github.com/tutorlink/auth-client/internal/core/service"
	"github.com/tutorlink/auth-client/internal/infrastructure/api"
	"github.com/tutorlink/auth-client/internal/infrastructure/store"
	"github.com/tutorlink/auth-client/internal/pkg/config"
	"github.com/tutorlink/auth-client/pkg/logger"
)

// app bundles the wired services the subcommands share.
type app struct {
	session     ports.SessionManager
	credentials ports.CredentialFlows
}

func main() {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: cfg.Env == "development"})

	ctx := context.Background()

	sessionStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}

	backend := api.NewClient(cfg.APIBaseURL, sessionStore, log,
		api.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout()}))
	session := service.NewSessionService(sessionStore, backend, log,
		service.WithGraceWindow(cfg.RoleSwitchGrace()))
	backend.SetSessionExpiredHandler(session.InvalidateLocalSession)

	credentials := service.NewCredentialService(session, backend, log,
		service.WithPostLogoutHook(func() {
			fmt.Println("Session ended. Log in again with: authctl login")
		}))

	a := &app{session: session, credentials: credentials}

	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Manage your TutorLink session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newStatusCmd(a),
		newSwitchRoleCmd(a),
		newLogoutCmd(a),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
