package main

import (
	"context"
	"flag"
	"os"

	"github.com/arhyth/ledgerxgo"
	"github.com/rs/zerolog"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfp := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()
	cfg, err := ledgerxgo.LoadConfig(*cfp)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading config file")
	}

	lh, err := ledgerxgo.NewLocalHelper(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting local helper")
	}
	defer lh.Close()

	ctx := context.Background()
	if _, err = lh.InitDB(ctx); err != nil {
		logger.Fatal().Err(err).Msg("error initializing database")
	}
	ids, err := lh.SeedAccounts(ctx, cfg.Database.SampleAccounts, cfg.Database.SampleBalance)
	if err != nil {
		logger.Fatal().Err(err).Msg("error seeding sample accounts")
	}
	logger.Info().
		Int("accounts", len(ids)).
		Str("balance", cfg.Database.SampleBalance.String()).
		Msg("sample accounts created")
}
