package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/1broseidon/viewmgr/internal/config"
	"github.com/1broseidon/viewmgr/internal/ipc"
	"github.com/1broseidon/viewmgr/internal/logging"
	"github.com/1broseidon/viewmgr/internal/mcp"
	"github.com/1broseidon/viewmgr/internal/node"
)

func printMCPUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: viewmgr mcp <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve    Start the MCP server (stdio transport)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'viewmgr mcp <command> --help' for command-specific options.")
}

func runMCP(args []string) int {
	if len(args) == 0 {
		printMCPUsage(os.Stderr)
		return 2
	}

	switch args[0] {
	case "serve":
		return runMCPServe(args[1:])
	case "help", "-h", "--help":
		printMCPUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown mcp command: %s\n\n", args[0])
		printMCPUsage(os.Stderr)
		return 2
	}
}

func runMCPServe(args []string) int {
	fs := newFlagSet("serve", "viewmgr mcp serve [--orphan-policy promote|cascade|hold] [--socket PATH]",
		"Start the MCP server on stdio. The server opens its own connection to the\n"+
			"daemon on first use and closes it on exit with --orphan-policy.\n"+
			"\n"+
			"Example (Claude Code):\n"+
			"  claude mcp add viewmgr -- viewmgr mcp serve --orphan-policy cascade")
	policyName := fs.String("orphan-policy", "", "Default policy for destroy_node and for closing the connection")
	socketPath := fs.String("socket", "", "Daemon socket path (default: $VIEWMGR_SOCKET or the runtime dir)")
	if code := parseFlags(fs, args, 0, 0); code >= 0 {
		return code
	}

	var policy node.OrphanPolicy
	if *policyName != "" {
		p, err := node.ParseOrphanPolicy(strings.ToLower(*policyName))
		if err != nil {
			return fail(err)
		}
		policy = p
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	// stdout carries the protocol; logs must not go there.
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return fail(err)
	}
	defer closer.Close()

	client := ipc.NewClient()
	if *socketPath != "" {
		client = ipc.NewClientAt(*socketPath)
	}
	server := mcp.NewServer(client, mcp.Options{Policy: policy, Logger: logger})
	defer func() {
		if err := server.Close(); err != nil {
			logger.Error("failed to close MCP connection", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("MCP server error", "error", err)
		return 1
	}
	return 0
}
