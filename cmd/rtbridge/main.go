// Package main is the entrypoint for rtbridge, the background bridge process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/morezero/rtbus/internal/config"
	"github.com/morezero/rtbus/internal/server"
	"github.com/morezero/rtbus/pkg/db"
)

const usage = `Usage: rtbridge [command]
       rtbridge serve               Start the bridge (COMMS, dispatcher, browser entities, HTTP).
       rtbridge migrate up          Run request journal migrations.
       rtbridge migrate status      Show migration status.
       rtbridge ensure-db           Create the DATABASE_URL database if missing.
       rtbridge journal list        Print journaled requests (--dispatcher, --correlation, --status, --limit).
       rtbridge journal prune       Delete journaled requests older than --older-than (default RT_JOURNAL_TTL).
       rtbridge journal clear       Truncate the request journal; schema is preserved.

Commands:
  serve           (default) Start the bridge.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  ensure-db       Create the journal database on the DATABASE_URL host.
  journal         Inspect or trim the request journal.

Environment: COMMS_URL, RT_CONTEXT, RT_TOPOLOGY_FILE, DATABASE_URL (journal), MIGRATION_PATH, HTTP_PORT, WS_ADDR. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("rtbridge migrate: require subcommand (up, status)")
		}
		switch sub := args[1]; sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("rtbridge migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("rtbridge migrate status: %v", err)
			}
		default:
			log.Fatalf("rtbridge migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "ensure-db":
		if err := runEnsureDB(); err != nil {
			log.Fatalf("rtbridge ensure-db: %v", err)
		}
		return
	case "journal":
		if len(args) < 2 {
			log.Fatalf("rtbridge journal: require subcommand (list, prune, clear)")
		}
		if err := runJournal(args[1], args[2:]); err != nil {
			log.Fatalf("rtbridge journal %s: %v", args[1], err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("rtbridge: %v", err)
	}
}

func loadDBConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, err
	}
	server.SetupLogging(cfg.LogLevel)
	return cfg, nil
}

func withJournal(fn func(ctx context.Context, cfg *config.Config, repo *db.JournalRepository) error) error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, db.NewJournalRepository(pool))
}

func runMigrateUp() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	if _, err := db.EnsureDatabase(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("ensure database: %w", err)
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	applied, err := db.RunMigrations(ctx, pool, migrations)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Printf("Applied %d migrations.\n", len(applied))
	return nil
}

func runMigrateStatus() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	applied, pending, err := db.MigrationStatus(ctx, pool, migrations)
	if err != nil {
		return err
	}
	for _, name := range applied {
		fmt.Printf("applied  %s\n", name)
	}
	for _, name := range pending {
		fmt.Printf("pending  %s\n", name)
	}
	return nil
}

func runEnsureDB() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	created, err := db.EnsureDatabase(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if created {
		fmt.Println("Database created.")
	} else {
		fmt.Println("Database is ready.")
	}
	return nil
}

// journalFlags parses the flags shared by the journal subcommands.
type journalFlags struct {
	dispatcher  string
	correlation string
	status      string
	limit       int
	olderThan   time.Duration
}

func parseJournalFlags(args []string, defaultTTL time.Duration) (*journalFlags, error) {
	f := &journalFlags{}
	fs := pflag.NewFlagSet("rtbridge journal", pflag.ContinueOnError)
	fs.StringVar(&f.dispatcher, "dispatcher", "", "only requests completed by this dispatcher")
	fs.StringVar(&f.correlation, "correlation", "", "only requests with this correlation id")
	fs.StringVar(&f.status, "status", "", "only OK or ERROR outcomes")
	fs.IntVar(&f.limit, "limit", 50, "maximum rows to print")
	fs.DurationVar(&f.olderThan, "older-than", defaultTTL, "prune rows completed before now minus this duration")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.olderThan <= 0 {
		return nil, fmt.Errorf("--older-than must be positive")
	}
	return f, nil
}

func runJournal(sub string, args []string) error {
	return withJournal(func(ctx context.Context, cfg *config.Config, repo *db.JournalRepository) error {
		flags, err := parseJournalFlags(args, cfg.JournalTTL)
		if err != nil {
			return err
		}
		switch sub {
		case "list":
			records, err := repo.ListRequests(ctx, db.ListRequestsParams{
				Dispatcher:    flags.dispatcher,
				CorrelationID: flags.correlation,
				Status:        flags.status,
				Limit:         flags.limit,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, r := range records {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		case "prune":
			n, err := repo.PruneRequests(ctx, time.Now().Add(-flags.olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d rows.\n", n)
			return nil
		case "clear":
			return repo.ClearJournal(ctx)
		default:
			return fmt.Errorf("unknown subcommand %q (use list, prune, clear)", sub)
		}
	})
}
