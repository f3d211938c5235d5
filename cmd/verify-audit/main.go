// verify-audit walks the audit chain from genesis and reports the first
// broken entry. It exits 1 when the chain does not verify.
//
// Usage: go run ./cmd/verify-audit [-json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"backoffice/internal/config"
	"backoffice/internal/core"
	"backoffice/internal/db"
	"backoffice/internal/logging"

	"github.com/sirupsen/logrus"
)

func main() {
	asJSON := flag.Bool("json", false, "print the result as JSON")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()

	chain := core.NewAuditChain(core.NewPgAuditStore(pool), logger)
	res, err := chain.VerifyChain(ctx)
	if err != nil {
		logger.Fatalf("verify: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	} else {
		fmt.Printf("entries checked: %d\n", res.TotalChecked)
		if res.Valid {
			fmt.Println("audit chain is intact")
		} else {
			fmt.Printf("audit chain BROKEN at entry %d\n", *res.BrokenAt)
			for _, e := range res.Errors {
				fmt.Printf("  - %s\n", e)
			}
		}
	}

	if !res.Valid {
		logger.WithError(res.Err()).Error("audit chain verification failed")
		os.Exit(1)
	}
}
