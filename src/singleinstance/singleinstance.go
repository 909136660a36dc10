package singleinstance

// This file defines the API for the resident control endpoint and command delegation.

import (
	"context"
	"fmt"
	"strings"
)

// Command is one control request understood by the resident.
type Command string

const (
	CmdRunOnce Command = "RUNONCE"
	CmdStart   Command = "START"
	CmdStop    Command = "STOP"
	CmdStatus  Command = "STATUS"
	CmdRebuild Command = "REBUILD"
)

// Commands lists every supported command.
func Commands() []Command {
	return []Command{CmdRunOnce, CmdStart, CmdStop, CmdStatus, CmdRebuild}
}

// ParseCommand maps a case-insensitive name to a Command.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Commands() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command %q", s)
}

// Server owns the TCP endpoint and answers control requests.
type Server interface {
	// Start begins listening on the first port of the configured range.
	Start(ctx context.Context) error
	// Port returns the bound TCP port, or 0 if not started.
	Port() int
	// Next returns the next accepted connection as a Conn, or ctx error.
	Next(ctx context.Context) (Conn, error)
	// Close releases ownership and stops accepting clients.
	Close() error
}

// Conn represents one client connection and exposes request + response API.
type Conn interface {
	// Request returns the parsed client request.
	Request() Request
	// RespondSuccess sends success followed by an optional body.
	RespondSuccess(text string) error
	// RespondError sends an error with human-readable message.
	RespondError(msg string) error
	// Close closes the underlying connection.
	Close() error
}

// Request represents a single client request.
type Request struct {
	Command Command
}

// Client delegates commands to a resident server.
type Client interface {
	// Send scans the configured range for a resident and delivers cmd.
	// If no resident is found, returns delegated=false, err=nil.
	Send(ctx context.Context, cmd Command) (delegated bool, reply string, err error)
}

// NewServer returns TCP implementation.
func NewServer() Server { return newTcpServer() }

// NewClient returns TCP implementation.
func NewClient() Client { return newTcpClient() }
