// Package main provides avzcore, a maintenance tool for the offline action
// queue stored in a data directory. It runs against the same database the
// desktop agent and the mobile library use, so stop those first.
//
// Usage:
//
//	avzcore [-config file] version|status|pending|sync|discard <id>|clear|migrate-status
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/avanzando/mobilecore/internal/config"
	"github.com/avanzando/mobilecore/internal/core"
	"github.com/avanzando/mobilecore/internal/db"
	"github.com/avanzando/mobilecore/internal/logging"
	"github.com/avanzando/mobilecore/internal/uuid"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("avzcore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("AVZ_CONFIG"), "path to the YAML configuration")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cmd := fs.Arg(0)
	if cmd == "" {
		fmt.Fprintln(stderr, "usage: avzcore [-config file] version|status|pending|sync|discard <id>|clear|migrate-status")
		return 2
	}
	if cmd == "version" {
		fmt.Fprintf(stdout, "avzcore v%s\n", Version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logging.Init(stderr, logging.ParseLevel(cfg.LogLevel))

	c, err := core.New(cfg, nil)
	if err != nil {
		fmt.Fprintf(stderr, "open core: %v\n", err)
		return 1
	}
	defer c.Close()

	ctx := context.Background()
	c.Queue.Load(ctx)

	switch cmd {
	case "status":
		return printJSON(stdout, stderr, statusView(c))

	case "pending":
		return printJSON(stdout, stderr, c.Queue.Pending())

	case "sync":
		report := c.Queue.ReplayAll(ctx)
		out := map[string]interface{}{
			"delivered": report.Delivered,
			"dropped":   report.Dropped,
			"remaining": report.Remaining,
			"aborted":   report.Aborted,
		}
		if report.Err != nil {
			out["error"] = report.Err.Error()
		}
		if code := printJSON(stdout, stderr, out); code != 0 {
			return code
		}
		if report.Aborted {
			return 1
		}
		return 0

	case "discard":
		id := fs.Arg(1)
		if id == "" {
			fmt.Fprintln(stderr, "discard requires an action id")
			return 2
		}
		if err := uuid.Validate(id); err != nil {
			fmt.Fprintf(stderr, "discard %s: %v\n", id, err)
			return 2
		}
		if err := c.Queue.Remove(ctx, id); err != nil {
			fmt.Fprintf(stderr, "discard %s: %v\n", id, err)
			return 1
		}
		fmt.Fprintf(stdout, "discarded %s\n", id)
		return 0

	case "clear":
		fmt.Fprintf(stdout, "cleared %d pending actions\n", c.Queue.Clear(ctx))
		return 0

	case "migrate-status":
		view, err := migrationView(c.DB)
		if err != nil {
			fmt.Fprintf(stderr, "migrate-status: %v\n", err)
			return 1
		}
		return printJSON(stdout, stderr, view)

	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		return 2
	}
}

func statusView(c *core.Core) map[string]interface{} {
	view := map[string]interface{}{
		"data_dir": c.Config.DataDir,
		"base_url": c.Config.BaseURL,
		"pending":  c.Queue.Len(),
	}
	if last := c.Queue.LastSync(); last != nil {
		view["last_sync"] = last.Format(time.RFC3339)
	}
	if retry := c.Queue.RetryAfter(); !retry.IsZero() {
		view["retry_after"] = retry.Format(time.RFC3339)
	}
	return view
}

func migrationView(database *db.DB) (map[string]interface{}, error) {
	m := db.NewMigrator(database.DB, db.Migrations)
	version, err := m.CurrentVersion()
	if err != nil {
		return nil, err
	}
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return nil, err
	}

	migrations := make([]map[string]interface{}, 0, len(applied))
	for _, mig := range applied {
		migrations = append(migrations, map[string]interface{}{
			"version":     mig.Version,
			"description": mig.Description,
			"applied_at":  mig.AppliedAt.UTC().Format(time.RFC3339),
			"checksum":    mig.Checksum,
		})
	}
	return map[string]interface{}{"version": version, "migrations": migrations}, nil
}

func printJSON(stdout, stderr io.Writer, v interface{}) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "encode output: %v\n", err)
		return 1
	}
	return 0
}
