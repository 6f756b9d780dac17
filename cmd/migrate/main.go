// migrate runs DB migrations from embedded SQL (go run ./cmd/migrate).
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"token-lifecycle/backend/internal/config"
	"token-lifecycle/backend/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	versionOnly := flag.Bool("version", false, "Print the current schema version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}

	if !*versionOnly {
		if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
	}

	version, dirty, err := migrate.Version(cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate version:", err)
		os.Exit(1)
	}
	fmt.Printf("schema version %d (dirty=%v)\n", version, dirty)
}
