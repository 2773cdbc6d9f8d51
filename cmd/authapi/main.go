package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/goliatone/go-budget-auth/authapi"
	"github.com/goliatone/go-budget-auth/config"
	"github.com/goliatone/go-budget-auth/identity"
	"github.com/goliatone/go-print"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := auth.DefaultLogger()
	if cfg.Debug {
		logger.Debug("config: %s", print.MaybeSecureJSON(cfg))
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	defer db.Close()

	ctx := context.Background()
	if err := identity.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	key := []byte(cfg.SigningKey)
	issuer := auth.NewTokenIssuer(key,
		auth.WithIssuerTTL(cfg.AccessTokenTTL),
		auth.WithIssuerName(cfg.Issuer),
		auth.WithIssuerAudience(cfg.Audience...),
		auth.WithIssuerLogger(logger),
	)

	verifierOpts := []auth.TokenVerifierOption{
		auth.WithVerifierSigningKey(key),
		auth.WithVerifierIssuer(cfg.Issuer),
		auth.WithVerifierLeeway(cfg.Leeway),
		auth.WithVerifierLogger(logger),
	}
	if len(cfg.Audience) > 0 {
		verifierOpts = append(verifierOpts, auth.WithVerifierAudience(cfg.Audience[0]))
	}

	verifier, err := auth.NewTokenVerifier(verifierOpts...)
	if err != nil {
		log.Fatalf("token verifier: %v", err)
	}
	defer verifier.Close()

	service := identity.NewService(identity.NewStore(db), issuer,
		identity.WithHasher(identity.NewBcryptHasher(cfg.BcryptCost)),
		identity.WithMailer(identity.LogMailer{Logger: logger}),
		identity.WithRefreshTTL(cfg.RefreshTokenTTL),
		identity.WithResetTTL(cfg.ResetTokenTTL),
		identity.WithConfirmationTTL(cfg.ConfirmationTTL),
		identity.WithEmailConfirmation(cfg.RequireEmailConfirmation),
		identity.WithLogger(logger),
	)

	controller := authapi.NewController(service, verifier,
		authapi.WithCookieDomain(cfg.CookieDomain),
		authapi.WithRateLimit(cfg.RateLimitMax, cfg.RateLimitWindow),
		authapi.WithLogger(logger),
	)

	app := authapi.NewApp(controller, cfg.RoutePrefix)

	go func() {
		logger.Info("auth api listening on %s", cfg.Addr)
		if err := app.Listen(cfg.Addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := WaitExitSignal()
	logger.Info("received %s, shutting down", sig)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("shutdown: %v", err)
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
