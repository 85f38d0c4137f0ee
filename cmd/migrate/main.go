package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/angelmondragon/bazari-settlement/internal/bootstrap"
	"github.com/angelmondragon/bazari-settlement/pkg/db"
	"github.com/angelmondragon/bazari-settlement/pkg/migrate"
)

// gooseCommands are passed straight through to goose against the database.
var gooseCommands = map[string]bool{
	"up":     true,
	"down":   true,
	"redo":   true,
	"status": true,
}

func main() {
	cmd := flag.String("cmd", "up", "up|down|redo|status|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate only touch the filesystem.
	switch *cmd {
	case "create":
		if *name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			exitf("create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			exitf("migration validation failed: %v", err)
		}
		fmt.Println("migrations valid:", *dir)
		return
	}
	if !gooseCommands[*cmd] && *cmd != "version" {
		exitf("unknown -cmd value: %s", *cmd)
	}
	if *cmd == "version" && *version == "" {
		exitf("missing -version for version")
	}

	proc := bootstrap.Start("migrate")
	defer proc.Close()
	ctx := proc.Logger.WithFields(context.Background(), map[string]any{
		"env": proc.Config.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	dbClient, err := db.New(ctx, proc.Config.DB, proc.Logger)
	proc.Must("failed to bootstrap database", err)
	proc.OnClose("database", dbClient.Close)

	sqlDB, err := dbClient.DB().DB()
	proc.Must("failed to unwrap sql database", err)

	if *cmd == "version" {
		err = migrate.MigrateToVersion(ctx, sqlDB, *dir, *version)
	} else {
		err = migrate.Run(ctx, sqlDB, *dir, *cmd)
	}
	proc.Must("migration command failed", err)
	proc.Logger.Info(ctx, "migration command finished")
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
