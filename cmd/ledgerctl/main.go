package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"academy-ledger/internal/config"
	"academy-ledger/internal/repository"
	"academy-ledger/pkg/database/postgres"
)

func main() {
	log := logrus.New()
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	db, err := postgres.NewPostgresConnection(postgres.ConnectionInfo{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Username: cfg.Postgres.User,
		DBName:   cfg.Postgres.DBName,
		SSLMode:  cfg.Postgres.SSLMode,
		Password: cfg.Postgres.Password,

		MaxOpenConns: cfg.Postgres.MaxConns,
	})
	if err != nil {
		log.WithError(err).Fatal("postgres init error")
	}

	cli := commandLine{
		db:      db,
		ledgers: repository.NewLedgerRepository(db),
		out:     os.Stdout,
		migrate: repository.Migrate,
	}
	runErr := cli.run(ctx, os.Args)
	if err := postgres.Close(db); err != nil {
		log.WithError(err).Warn("postgres close error")
	}
	if runErr != nil {
		if !errors.Is(runErr, errHelp) {
			log.WithError(runErr).Error("command failed")
		}
		os.Exit(1)
	}
}
