// Package main defines the CLI structure using kong.
package main

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Serve chat sessions over NATS"`
	Chat    ChatCmd    `cmd:"" help:"Interactive chat session on the terminal"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// ServeCmd runs the daemon against the configured NATS server.
type ServeCmd struct {
	Config string `help:"Config file path" default:"opsdesk.toml"`
}

// ChatCmd drives one local session on stdin/stdout.
type ChatCmd struct {
	Config  string `help:"Config file path" default:"opsdesk.toml"`
	Session string `help:"Session ID (random when empty)"`
}

// VersionCmd shows version information.
type VersionCmd struct{}
