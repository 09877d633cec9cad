package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"mnemosyne/internal/storage"
	"mnemosyne/pkg/mnemosyne"
)

const (
	sessionsDir = "sessions"
	exportsDir  = "exports"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "sessions":
		return runSessions(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "mnemosyne.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := mnemosyne.New(mnemosyne.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "session config JSON path (attach + batches)")
	sessionID := fs.String("session", "", "explicit session id (optional)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "mnemosyne.db", "sqlite database path")
	dir := fs.String("sessions-dir", sessionsDir, "session artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return usageError("run requires -config")
	}

	cfg, err := loadSessionConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *sessionID != "" {
		cfg.Session.SessionID = *sessionID
	}

	client, err := mnemosyne.New(mnemosyne.Options{
		StoreKind:   *storeKind,
		DBPath:      *dbPath,
		SessionsDir: *dir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Attach(cfg.Attach); err != nil {
		return err
	}
	summary, err := client.RunSession(ctx, cfg.Session)
	if err != nil {
		return err
	}

	fmt.Printf("session=%s mode=%s batches=%d examples=%d clusters=%d conflicts=%d forgotten=%d lookup_faults=%d guidance_loss=%.6f\n",
		summary.SessionID, summary.Mode, summary.Batches, summary.Examples,
		summary.Clusters, summary.Conflicts, summary.Forgotten, summary.LookupFaults, summary.GuidanceLoss)
	return nil
}

func runSessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum sessions to list")
	dir := fs.String("sessions-dir", sessionsDir, "session artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := mnemosyne.New(mnemosyne.Options{StoreKind: "memory", SessionsDir: *dir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Sessions(ctx, mnemosyne.SessionsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no sessions recorded")
		return nil
	}
	for _, item := range items {
		fmt.Printf("session=%s mode=%s batches=%d examples=%d clusters=%d conflicts=%d created=%s\n",
			item.SessionID, item.Mode, item.Batches, item.Examples, item.Clusters, item.Conflicts, item.CreatedAtUTC)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	sessionID := fs.String("session", "", "session id")
	latest := fs.Bool("latest", false, "use the most recent session")
	limit := fs.Int("limit", 0, "maximum records to print (0 prints all)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "mnemosyne.db", "sqlite database path")
	dir := fs.String("sessions-dir", sessionsDir, "session artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := mnemosyne.New(mnemosyne.Options{
		StoreKind:   *storeKind,
		DBPath:      *dbPath,
		SessionsDir: *dir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.History(ctx, mnemosyne.HistoryRequest{
		SessionID: *sessionID,
		Latest:    *latest,
		Limit:     *limit,
	})
	if err != nil {
		return err
	}
	for _, item := range items {
		fmt.Printf("seq=%d batch=%d action=%s cluster=%d block=%d distance=%.6f\n",
			item.Seq, item.Batch, item.Action, item.Cluster, item.Block, item.Distance)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	sessionID := fs.String("session", "", "session id")
	latest := fs.Bool("latest", false, "use the most recent session")
	outDir := fs.String("out", exportsDir, "export output directory")
	dir := fs.String("sessions-dir", sessionsDir, "session artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := mnemosyne.New(mnemosyne.Options{StoreKind: "memory", SessionsDir: *dir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, mnemosyne.ExportRequest{
		SessionID: *sessionID,
		Latest:    *latest,
		OutDir:    *outDir,
	})
	if err != nil {
		return err
	}

	fmt.Printf("exported session=%s dir=%s\n", summary.SessionID, summary.Directory)
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: mnemosynectl <init|run|sessions|history|export> [flags]", msg)
}
