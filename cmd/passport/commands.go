package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/passport/cmd/passport/cli"
	"github.com/odyssey-erp/passport/internal/app"
	"github.com/odyssey-erp/passport/internal/platform/cache"
	"github.com/odyssey-erp/passport/internal/platform/db"
	"github.com/odyssey-erp/passport/internal/rbac"
	"github.com/odyssey-erp/passport/internal/shared"
)

const usage = `usage: passport [command]

without a command the HTTP server starts.

commands:
  seed [--extended]                     ensure the baseline roles and permissions
  access --user ID [--permission NAME] [--json]
                                        print a user's roles, tier and permissions
  jobs trigger NAME [--user ID]         enqueue rbac:reconcile-baseline or auth:revoke-user-tokens
  jobs stats [--json]                   print default queue counters
`

func isCommand(name string) bool {
	switch name {
	case "seed", "access", "jobs", "help", "-h", "--help":
		return true
	}
	return false
}

// runCommand executes one administrative command and returns the exit code.
func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "seed", "access":
		return runAccessCommand(ctx, cfg, logger, args, stdout, stderr)
	case "jobs":
		return runJobsCommand(ctx, cfg, args[1:], stdout, stderr)
	default:
		fmt.Fprint(stdout, usage)
		return 0
	}
}

func runAccessCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	extended := fs.Bool("extended", cfg.RBACExtendedCatalogue, "include assign-role in the catalogue")
	userID := fs.Int64("user", 0, "user id to inspect")
	permission := fs.String("permission", "", "permission to check")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		fmt.Fprintf(stderr, "connect postgres: %v\n", err)
		return 2
	}
	defer pool.Close()

	var graphCache *rbac.GraphCache
	if redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB}); err == nil {
		defer redisClient.Close()
		graphCache = rbac.NewGraphCache(redisClient, cfg.RBACCacheTTL)
	} else {
		logger.Warn("redis unavailable, graph cache disabled", slog.Any("error", err))
	}
	service := rbac.NewService(rbac.NewRepository(pool), graphCache, shared.NewAuditLogger(pool), logger)
	access := cli.NewAccessCLI(service, service)

	if args[0] == "seed" {
		if err := access.SeedCommand(ctx, *extended, stdout); err != nil {
			fmt.Fprintf(stderr, "seed: %v\n", err)
			return 1
		}
		return 0
	}
	return access.AccessCommand(ctx, cli.AccessOptions{
		UserID:     *userID,
		Permission: *permission,
		JSONOutput: *jsonOut,
		Stdout:     stdout,
		Stderr:     stderr,
	})
}

func runJobsCommand(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	fs := flag.NewFlagSet("jobs "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	userID := fs.Int64("user", 0, "user id for auth:revoke-user-tokens")
	jsonOut := fs.Bool("json", false, "print JSON")

	jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "jobs trigger: job name required")
			return 2
		}
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1], *userID)
		if err != nil {
			fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "jobs stats: %v\n", err)
			return 1
		}
		if *jsonOut {
			if err := json.NewEncoder(stdout).Encode(stats); err != nil {
				return 1
			}
			return 0
		}
		fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return 0
	default:
		fmt.Fprintf(stderr, "jobs: unknown subcommand %s\n", args[0])
		return 2
	}
}
