// Command sessionprobe drives a SessionService against BASE_URL: it restores
// or creates a session, loads the user resources and optionally logs out.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/rs/zerolog/log"
)

func main() {
	username := flag.String("username", config.GetEnv("DEMO_USERNAME", "demo"), "account to log in with")
	password := flag.String("password", config.GetEnv("DEMO_PASSWORD", ""), "password for username")
	logout := flag.Bool("logout", true, "log out when done")
	flag.Parse()

	if err := run(*username, *password, *logout); err != nil {
		log.Fatal().Err(err).Msg("probe failed")
	}
}

func run(username, password string, logout bool) error {
	ctx := context.Background()
	svc, err := auth.NewSessionService(config.New(),
		auth.WithSessionExpiredHandler(func(err error) {
			log.Warn().Err(err).Msg("session expired, log in again")
		}),
	)
	if err != nil {
		return err
	}
	defer svc.Close()

	svc.Initialize(ctx)
	if !svc.IsAuthenticated() {
		res := svc.Login(ctx, username, password, false)
		if !res.Success {
			return fmt.Errorf("login: %s", res.Error)
		}
	}

	profile, _ := svc.Profile(ctx)
	settings, _ := svc.Settings(ctx)
	entitlements, _ := svc.Entitlements(ctx)
	out := map[string]any{
		"user":         svc.User(),
		"profile":      profile,
		"settings":     settings,
		"entitlements": entitlements,
	}
	if msg := svc.EntitlementsError(); msg != "" {
		out["entitlements_error"] = msg
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	if logout {
		svc.Logout(ctx)
	}
	return nil
}
