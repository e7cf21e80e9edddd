package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-assets/pkg/simpleasset/config"
)

const usage = `Simple Assets Admin CLI

An operator tool that talks to the configured storage and manifest backends
directly. It acts with admin scope and needs no credentials of its own.

USAGE:
  admin <command> [options]

COMMANDS:
  publish   Upload a directory and commit it as a manifest version
  resolve   Print the manifest of a version (default: latest)
  versions  List published versions, newest first
  mint      Mint a read token for a player or service

ENVIRONMENT VARIABLES:
  STORAGE_URL       memory://, file:///path or s3://bucket?region=..
  MANIFEST_URL      storage, bolt:///path, postgres://... or redis://...
  JWT_SECRET        Token signing secret (must match the server)

  Configuration can be loaded from a .env file in the current directory.

EXAMPLES:
  # Publish ./build as 1.4.0 and move latest
  admin publish --version=1.4.0 ./build

  # Publish a preview without moving latest
  admin publish --version=1.5.0-rc1 --latest=false ./build

  # Show what latest points at
  admin resolve

  # The ten most recent versions
  admin versions --limit=10

  # Mint a token valid for 30 days
  admin mint --subject=player-42 --duration=720h

OPTIONS:
  --as=<id>          Identity recorded as publisher / minter (default: admin-cli)
  --limit=<n>        Maximum versions to list (default: all)
  --json             Output as JSON
`

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "help" || command == "--help" || command == "-h" {
		fmt.Print(usage)
		os.Exit(0)
	}

	serverConfig, err := config.Load(config.WithEnv(), config.WithEventLogging(false))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	rt, err := serverConfig.BuildService(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build service: %v\n", err)
		os.Exit(1)
	}

	err = run(ctx, rt.Service, command, os.Args[2:], os.Stdout)
	rt.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		os.Exit(1)
	}
}
