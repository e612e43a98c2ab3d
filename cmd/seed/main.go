// Command seed registers users from a TOML file. Roles are assigned once,
// here: re-seeding an existing subject with another role fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/elkanatum/tarpaulin-api/internal/config"
	"github.com/elkanatum/tarpaulin-api/internal/db"
	"github.com/elkanatum/tarpaulin-api/internal/logging"
	"github.com/elkanatum/tarpaulin-api/internal/model"
)

type seedFile struct {
	Users []seedUser `toml:"users"`
}

type seedUser struct {
	Sub  string     `toml:"sub"`
	Role model.Role `toml:"role"`
}

func main() {
	path := flag.String("file", "seed.toml", "path to the seed file")
	flag.Parse()

	if err := config.LoadDotenvIfPresent(); err != nil {
		log.Printf("dotenv load error: %v", err)
	}
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, err := loadSeed(*path)
	if err != nil {
		logger.Fatal("seed file invalid", zap.String("file", *path), zap.Error(err))
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("db migration failed", zap.Error(err))
	}

	seeded, err := apply(ctx, db.NewStore(pool), users)
	if err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
	for _, user := range seeded {
		logger.Info("user seeded", zap.Int64("id", user.ID), zap.String("sub", user.Subject), zap.String("role", string(user.Role)))
	}
}

func loadSeed(path string) ([]seedUser, error) {
	var file seedFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(file.Users))
	for i, user := range file.Users {
		if user.Sub == "" {
			return nil, fmt.Errorf("users[%d]: sub is required", i)
		}
		if !user.Role.Valid() {
			return nil, fmt.Errorf("users[%d]: invalid role %q", i, user.Role)
		}
		if _, dup := seen[user.Sub]; dup {
			return nil, fmt.Errorf("users[%d]: duplicate sub %q", i, user.Sub)
		}
		seen[user.Sub] = struct{}{}
	}
	return file.Users, nil
}

// apply registers every user in one transaction.
func apply(ctx context.Context, store db.Store, users []seedUser) ([]model.User, error) {
	seeded := make([]model.User, 0, len(users))
	err := store.WithTx(ctx, func(q db.Queries) error {
		for _, user := range users {
			stored, err := q.EnsureUser(ctx, user.Sub, user.Role)
			if err != nil {
				return fmt.Errorf("register %s: %w", user.Sub, err)
			}
			seeded = append(seeded, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seeded, nil
}
