// rotate-keys re-encrypts every stored signing credential from the old
// keyvault key to the new one. Keys are base64 encoded.
//
// Usage: go run ./cmd/rotate-keys -old <base64> -new <base64> [-dry-run]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"backoffice/internal/config"
	"backoffice/internal/db"
	"backoffice/internal/keyvault"
	"backoffice/internal/logging"

	"github.com/sirupsen/logrus"
)

func main() {
	oldFlag := flag.String("old", "", "current key (base64)")
	newFlag := flag.String("new", "", "replacement key (base64)")
	dryRun := flag.Bool("dry-run", false, "decrypt, re-encrypt and verify without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)

	if *oldFlag == "" || *newFlag == "" {
		flag.Usage()
		os.Exit(2)
	}
	keys, err := keyvault.ParseKeys([]string{*oldFlag, *newFlag})
	if err != nil || len(keys) != 2 {
		logger.Fatalf("invalid keys: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()

	report, err := keyvault.Rotate(ctx, keyvault.NewPgCredentialRepo(pool), keys[0], keys[1],
		keyvault.RotateOptions{DryRun: *dryRun}, logger)
	if err != nil {
		logger.Fatalf("rotate: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if len(report.Failures) > 0 {
		os.Exit(1)
	}
}
