// Package main is the entry point for the opsdesk support daemon.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/vinayprograms/agentkit/credentials"

	"github.com/opsdesk/scenario/internal/config"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// globalCreds holds loaded credentials (file > env fallback happens in GetAPIKey)
var globalCreds *credentials.Credentials

func init() {
	if creds, _, err := credentials.Load(); err == nil && creds != nil {
		globalCreds = creds
	}
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("opsdesk"),
		kong.Description("Scenario-driven support chat for warehouse operations."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if os.IsNotExist(err) {
		return config.Default(), nil
	}
	return cfg, err
}

// Run starts the NATS-facing daemon.
func (c *ServeCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, globalCreds)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr, err := rt.connectTransport()
	if err != nil {
		return err
	}
	if err := tr.Serve(ctx, rt.handleMessage); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// Run drives one interactive session on the terminal.
func (c *ChatCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, globalCreds)
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID := c.Session
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	fmt.Printf("session %s. Type your message; Ctrl-D to quit.\n", sessionID)

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		replies, err := rt.handleMessage(ctx, sessionID, scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		for _, reply := range replies {
			fmt.Println(reply)
		}
	}
	return scanner.Err()
}

func (c *VersionCmd) Run() error {
	fmt.Printf("opsdesk version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
