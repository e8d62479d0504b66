// Package main is the scope-rules CLI for validating and loading
// detection rule bundles into the event store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloudscope/internal/config"
	"cloudscope/internal/detect"
	"cloudscope/internal/logging"
	"cloudscope/internal/schema"
	"cloudscope/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "validate":
		runValidate(os.Args[2:])
	case "list":
		runList(os.Args[2:])
	case "load":
		runLoad(ctx, os.Args[2:])
	case "-version", "--version", "-v":
		fmt.Printf("scope-rules %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: scope-rules <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  validate  Validate a rule bundle file or directory\n")
	fmt.Fprintf(os.Stderr, "  list      Print the rules in a bundle, or the built in set\n")
	fmt.Fprintf(os.Stderr, "  load      Load rules and their tags into the event store\n")
}

// loadRules resolves the rule source shared by the subcommands: a
// bundle file, a bundle directory, or the built in set.
func loadRules(path string, builtin bool) ([]schema.DetectionRule, []schema.Tag, error) {
	if builtin {
		bundle := &detect.Bundle{Rules: detect.BuiltinRules()}
		return bundle.Rules, bundle.Tags(), nil
	}
	if path == "" {
		return nil, nil, fmt.Errorf("either -path or -builtin is required")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var bundle *detect.Bundle
	if info.IsDir() {
		bundle, err = detect.LoadDir(path)
	} else {
		bundle, err = detect.LoadBundle(path)
	}
	if err != nil {
		return nil, nil, err
	}
	return bundle.Rules, bundle.Tags(), nil
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("path", "", "Bundle file or directory (required)")
	fs.Parse(args)

	rules, _, err := loadRules(*path, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d rules OK\n", *path, len(rules))
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	path := fs.String("path", "", "Bundle file or directory")
	builtin := fs.Bool("builtin", false, "List the built in rules")
	fs.Parse(args)

	rules, _, err := loadRules(*path, *builtin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for _, rule := range rules {
		state := "enabled"
		if !rule.Enabled {
			state = "disabled"
		}
		fmt.Printf("%-40s %-6s %-8s %s\n", rule.Name, rule.Cloud, rule.Severity, state)
	}
	fmt.Printf("\n%d rules\n", len(rules))
}

func runLoad(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	path := fs.String("path", "", "Bundle file or directory")
	builtin := fs.Bool("builtin", false, "Load the built in rules")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging)

	if *path == "" && !*builtin {
		*path = cfg.Detect.RulesDir
	}

	rules, tags, err := loadRules(*path, *builtin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	client, err := store.NewClient(cfg.Storage.ClickHouse)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to event store: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := store.NewMigrator(client).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error migrating event store: %v\n", err)
		os.Exit(1)
	}

	if err := store.NewTagRepository(client).Ensure(ctx, tags); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading tags: %v\n", err)
		os.Exit(1)
	}
	if err := store.NewRuleRepository(client).Upsert(ctx, rules); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading rules: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("loaded %d rules and %d tags\n", len(rules), len(tags))
}
