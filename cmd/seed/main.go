// seed creates a development user and prints a web-session token that can be
// used to claim link codes locally. Idempotent: an existing user is kept and
// only its timezone is updated.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"distrack/backend/internal/config"
	"distrack/backend/internal/db"
	"distrack/backend/internal/platform/logging"
	"distrack/backend/internal/security"
	userrepo "distrack/backend/internal/user/repository"
)

const devUserID = "dev-user-001"

func main() {
	userID := flag.String("user", devUserID, "User id to create")
	timezone := flag.String("timezone", "UTC", "IANA timezone used for the user's streak")
	ttl := flag.Duration("ttl", 24*time.Hour, "Lifetime of the printed web-session token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, "text")
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if cfg.JWTSecret == "" && cfg.JWTPrivateKey == "" {
		log.Fatal("JWT_SECRET or JWT_PRIVATE_KEY/JWT_PUBLIC_KEY must match the server's signing key")
	}
	if _, err := time.LoadLocation(*timezone); err != nil {
		log.WithError(err).Fatalf("invalid timezone %q", *timezone)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("db")
	}
	defer conn.Close()

	ctx := context.Background()
	users := userrepo.NewPostgresRepository(conn)
	if err := users.Ensure(ctx, *userID); err != nil {
		log.WithError(err).Fatal("ensure user")
	}
	if err := users.SetTimezone(ctx, *userID, *timezone); err != nil {
		log.WithError(err).Fatal("set timezone")
	}

	tokens, err := security.NewConfiguredTokenProvider(cfg.JWTSecret, cfg.JWTPrivateKey, cfg.JWTPublicKey, security.TokenOptions{
		Issuer:      cfg.JWTIssuer,
		Audience:    cfg.JWTAudience,
		WebAudience: cfg.JWTWebAudience,
		Scope:       cfg.TokenScope,
		AccessTTL:   cfg.AccessTTL(),
		Leeway:      cfg.ClockSkew(),
	})
	if err != nil {
		log.WithError(err).Fatal("token provider")
	}
	web, err := tokens.IssueWebSession(*userID, *ttl)
	if err != nil {
		log.WithError(err).Fatal("issue web session")
	}

	log.WithFields(logrus.Fields{"user_id": *userID, "timezone": *timezone}).Info("seed completed")
	fmt.Printf("Claim a link code with:\n  curl -X POST localhost%s/v1/link/claim -H 'Authorization: Bearer %s' -d '{\"code\":\"<CODE>\"}'\n", cfg.HTTPAddr, web)
}
