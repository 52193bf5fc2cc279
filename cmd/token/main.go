package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"nirogai/backend/internal/auth"
	"nirogai/backend/internal/config"
	"nirogai/backend/internal/store"
)

// token creates (or refreshes) a user row and prints a bearer token for it.
// Intended for local development against the screening API.
func main() {
	var (
		userID = flag.Uint("id", 1, "User id")
		email  = flag.String("email", "", "User email")
		name   = flag.String("name", "", "User display name")
		ttl    = flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	)
	flag.Parse()

	token, err := run(store.User{ID: *userID, Email: *email, Name: *name}, *ttl)
	if err != nil {
		logrus.Fatal(err)
	}
	fmt.Println(token)
}

func run(user store.User, ttl time.Duration) (token string, err error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.IsProduction() {
		return "", errors.New("refusing to mint tokens in production")
	}

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return "", fmt.Errorf("auth verifier: %w", err)
	}

	db, err := store.Open(store.Config{
		Driver:         cfg.Database.Driver,
		DSN:            cfg.Database.DSN,
		Silent:         true,
		AcquireTimeout: cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	if err := db.EnsureUser(context.Background(), &user); err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}

	token, err = verifier.Issue(auth.Identity{ID: user.ID, Email: user.Email, Name: user.Name}, ttl)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"expires_in": ttl,
	}).Info("token issued")
	return token, nil
}
