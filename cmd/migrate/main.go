package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/quatton/mam/pkg/db"
	"github.com/quatton/mam/pkg/mlog"
)

const usage = "usage: migrate [up|down|status]"

type dbEnv struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"mam"`
	Password string `envconfig:"DB_PASSWORD" default:"password"`
	Name     string `envconfig:"DB_NAME" default:"mam"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	Verbose  bool   `envconfig:"DB_VERBOSE" default:"false"`
}

func main() {
	log := mlog.FromEnv(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	} else {
		log.Info("loaded .env file")
	}

	action := "up"
	if len(os.Args) > 1 {
		action = os.Args[1]
	}

	var env dbEnv
	if err := envconfig.Process("", &env); err != nil {
		log.Fatal("failed to process env vars", "error", err)
	}

	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Host:     env.Host,
		Port:     env.Port,
		User:     env.User,
		Password: env.Password,
		Database: env.Name,
		SSLMode:  env.SSLMode,
		Verbose:  env.Verbose,
	})
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	defer database.Close()

	switch action {
	case "up":
		err = db.Migrate(ctx, database, log)
	case "down":
		err = db.Rollback(ctx, database, log)
	case "status":
		err = db.Status(ctx, database, log)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("migration failed", "action", action, "error", err)
	}
}
