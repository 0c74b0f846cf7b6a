package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/authmodel"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/logging"
	"github.com/jrsteele09/go-auth-session/server"
	"github.com/jrsteele09/go-auth-session/token/keys"
	refreshrepofake "github.com/jrsteele09/go-auth-session/token/refresh/repofake"
	"github.com/jrsteele09/go-auth-session/users"
	fakeuserrepo "github.com/jrsteele09/go-auth-session/users/repofake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const signingKeyID = "devserver-1"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	log.Logger = logging.New(c.GetEnv(), c.GetLogLevel())
	displayAppname(c.GetAppName())

	keyPair, err := loadSigningKey()
	if err != nil {
		return err
	}

	srv, err := server.New(c, server.Repos{
		Users:         fakeuserrepo.NewFakeUserRepo(),
		RefreshTokens: refreshrepofake.NewFakeRefreshTokenRepo(),
	}, keys.NewKeyPairSigner(keyPair), server.WithGatherer(prometheus.DefaultGatherer))
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}
	if err := seedDemoUser(srv); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(httpServer) }()

	select {
	case err := <-errCh:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

// loadSigningKey reads SIGNING_KEY_PEM, or generates a throwaway key so
// tokens do not survive a restart.
func loadSigningKey() (*keys.KeyPair, error) {
	if pem := config.GetEnv("SIGNING_KEY_PEM", ""); pem != "" {
		kp, err := keys.LoadKeyPairFromPEM(signingKeyID, pem)
		if err != nil {
			return nil, fmt.Errorf("keys.LoadKeyPairFromPEM: %w", err)
		}
		return kp, nil
	}
	log.Warn().Msg("SIGNING_KEY_PEM not set, generating an ephemeral signing key")
	kp, err := keys.GenerateRSAKeyPair(signingKeyID, 2048)
	if err != nil {
		return nil, fmt.Errorf("keys.GenerateRSAKeyPair: %w", err)
	}
	return kp, nil
}

func seedDemoUser(srv *server.Server) error {
	password := config.GetEnv("DEMO_PASSWORD", "")
	if password == "" {
		return nil
	}
	username := config.GetEnv("DEMO_USERNAME", "demo")
	err := srv.SeedUser(authmodel.RegisterRequest{
		Username: username,
		Email:    config.GetEnv("DEMO_EMAIL", username+"@example.com"),
		Password: password,
	}, users.PlanPro, users.RoleMember, users.RoleAdmin)
	if err != nil {
		return err
	}
	log.Info().Str("username", username).Msg("demo user ready")
	return nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
