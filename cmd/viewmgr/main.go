package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/1broseidon/viewmgr/internal/config"
	"github.com/1broseidon/viewmgr/internal/daemon"
	"github.com/1broseidon/viewmgr/internal/ipc"
	"github.com/1broseidon/viewmgr/internal/logging"
	"github.com/1broseidon/viewmgr/internal/node"
)

func main() {
	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "daemon":
		os.Exit(runDaemon(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "connect":
		os.Exit(runConnect(os.Args[2:]))
	case "disconnect":
		os.Exit(runDisconnect(os.Args[2:]))
	case "node":
		os.Exit(runNode(os.Args[2:]))
	case "tree":
		os.Exit(runTree(os.Args[2:]))
	case "events":
		os.Exit(runEvents(os.Args[2:]))
	case "snapshot":
		os.Exit(runSnapshot(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "mcp":
		os.Exit(runMCP(os.Args[2:]))
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: viewmgr <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  daemon              Start the view manager daemon (foreground)")
	fmt.Fprintln(w, "  status              Show daemon status")
	fmt.Fprintln(w, "  connect             Open a client connection and print its id")
	fmt.Fprintln(w, "  disconnect          Close a connection and destroy its nodes")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  node create         Create a node")
	fmt.Fprintln(w, "  node add            Add a child to a parent (on top)")
	fmt.Fprintln(w, "  node remove         Detach a child from its parent")
	fmt.Fprintln(w, "  node reorder        Move a node above or below a sibling")
	fmt.Fprintln(w, "  node show|hide      Change a node's visibility")
	fmt.Fprintln(w, "  node bounds         Move and resize a node")
	fmt.Fprintln(w, "  node bitmap         Set a node's contents from a PNG")
	fmt.Fprintln(w, "  node destroy        Destroy a node")
	fmt.Fprintln(w, "  node info           Describe a node")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  tree                Print the node tree")
	fmt.Fprintln(w, "  events              Print node events")
	fmt.Fprintln(w, "  snapshot write      Write a tree snapshot on the daemon host")
	fmt.Fprintln(w, "  snapshot show       Print a snapshot file")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  config validate     Validate configuration")
	fmt.Fprintln(w, "  config print        Print configuration")
	fmt.Fprintln(w, "  config explain      Explain a config value")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  mcp serve           Start MCP server (stdio transport)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'viewmgr <command> --help' for command-specific options.")
}

// newFlagSet returns a flag set whose usage prints usage, description and
// the flag defaults.
func newFlagSet(name, usage, description string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: "+usage)
		if description != "" {
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, description)
		}
		if fs.HasFlags() {
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "Flags:")
			fs.PrintDefaults()
		}
	}
	return fs
}

// parseFlags parses args and checks the positional count. It returns -1
// to continue, or the exit code.
func parseFlags(fs *pflag.FlagSet, args []string, minArgs, maxArgs int) int {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < minArgs || (maxArgs >= 0 && fs.NArg() > maxArgs) {
		if maxArgs == 0 {
			fmt.Fprintf(os.Stderr, "%s takes no arguments\n", fs.Name())
		} else {
			fmt.Fprintf(os.Stderr, "%s: wrong number of arguments\n", fs.Name())
		}
		fs.Usage()
		return 2
	}
	return -1
}

func isHelp(arg string) bool {
	return arg == "help" || arg == "-h" || arg == "--help"
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, err)
	return 1
}

func loadConfig(path string) (*config.LoadResult, error) {
	if path == "" {
		return config.LoadWithSources()
	}
	return config.LoadFromPath(path)
}

func runDaemon(args []string) int {
	fs := newFlagSet("daemon", "viewmgr daemon [--config PATH] [--socket PATH]",
		"Run the view manager in the foreground until interrupted.")
	configPath := fs.String("config", "", "Config file path (default: ~/.config/viewmgr/config.yaml)")
	socketPath := fs.String("socket", "", "IPC socket path (default: $VIEWMGR_SOCKET or the runtime dir)")
	if code := parseFlags(fs, args, 0, 0); code >= 0 {
		return code
	}

	res, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	logger, closer, err := logging.New(res.Config.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := daemon.Run(ctx, res.Config, daemon.Options{SocketPath: *socketPath, Logger: logger}); err != nil {
		logger.Error("daemon failed", "error", err)
		return 1
	}
	return 0
}

func runStatus(args []string) int {
	fs := newFlagSet("status", "viewmgr status", "Show daemon status via IPC.")
	if code := parseFlags(fs, args, 0, 0); code >= 0 {
		return code
	}

	status, err := ipc.NewClient().GetStatus()
	if err != nil {
		return fail(err)
	}
	conns := make([]string, 0, len(status.Connections))
	for _, c := range status.Connections {
		conns = append(conns, fmt.Sprint(c))
	}
	fmt.Printf("daemon_running: %v\n", status.DaemonRunning)
	fmt.Printf("backend:        %s\n", status.Backend)
	fmt.Printf("root_bounds:    %s\n", status.RootBounds)
	fmt.Printf("nodes:          %d\n", status.Nodes)
	fmt.Printf("connections:    %s\n", strings.Join(conns, ","))
	fmt.Printf("event_seq:      %d\n", status.EventSeq)
	fmt.Printf("subscribers:    %d\n", status.Subscribers)
	fmt.Printf("uptime_seconds: %d\n", status.UptimeSeconds)
	return 0
}

func runConnect(args []string) int {
	fs := newFlagSet("connect", "viewmgr connect",
		"Open a client connection. Nodes created with --connection N belong to it\nuntil 'viewmgr disconnect N'.")
	if code := parseFlags(fs, args, 0, 0); code >= 0 {
		return code
	}
	conn, err := ipc.NewClient().Connect()
	if err != nil {
		return fail(err)
	}
	fmt.Println(conn)
	return 0
}

func runDisconnect(args []string) int {
	fs := newFlagSet("disconnect", "viewmgr disconnect --policy promote|cascade|hold <connection>",
		"Close a connection, destroying every node it owns.")
	policyName := fs.String("policy", "", "What happens to children owned by other connections (required)")
	if code := parseFlags(fs, args, 1, 1); code >= 0 {
		return code
	}
	conn, err := parseConnection(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	policy, err := node.ParseOrphanPolicy(*policyName)
	if err != nil {
		return fail(err)
	}
	if err := ipc.NewClient().Disconnect(conn, policy); err != nil {
		return fail(err)
	}
	return 0
}

func parseConnection(s string) (node.ConnectionID, error) {
	var conn node.ConnectionID
	if _, err := fmt.Sscan(s, &conn); err != nil || conn == 0 {
		return 0, fmt.Errorf("invalid connection id %q", s)
	}
	return conn, nil
}

func runConfig(args []string) int {
	if len(args) == 0 || isHelp(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  viewmgr config validate [--path PATH]")
		fmt.Fprintln(os.Stderr, "  viewmgr config print [--path PATH] [--defaults]")
		fmt.Fprintln(os.Stderr, "  viewmgr config explain [--path PATH] <yaml.path>")
		return 2
	}

	switch args[0] {
	case "validate":
		fs := newFlagSet("validate", "viewmgr config validate [--path PATH]", "")
		path := fs.String("path", "", "Config file path (default: ~/.config/viewmgr/config.yaml)")
		if code := parseFlags(fs, args[1:], 0, 0); code >= 0 {
			return code
		}
		if _, err := loadConfig(*path); err != nil {
			return fail(err)
		}
		fmt.Println("config: ok")
		return 0

	case "print":
		fs := newFlagSet("print", "viewmgr config print [--path PATH] [--defaults]", "")
		path := fs.String("path", "", "Config file path (default: ~/.config/viewmgr/config.yaml)")
		printDefaults := fs.Bool("defaults", false, "Print built-in defaults (no files)")
		if code := parseFlags(fs, args[1:], 0, 0); code >= 0 {
			return code
		}

		cfg := config.DefaultConfig()
		if !*printDefaults {
			res, err := loadConfig(*path)
			if err != nil {
				return fail(err)
			}
			for _, f := range res.Files {
				fmt.Printf("# loaded: %s\n", f)
			}
			cfg = res.Config
		}
		data, err := cfg.Marshal()
		if err != nil {
			return fail(err)
		}
		fmt.Print(string(data))
		return 0

	case "explain":
		fs := newFlagSet("explain", "viewmgr config explain [--path PATH] <yaml.path>", "")
		path := fs.String("path", "", "Config file path (default: ~/.config/viewmgr/config.yaml)")
		if code := parseFlags(fs, args[1:], 1, 1); code >= 0 {
			return code
		}
		queryPath := fs.Arg(0)

		res, err := loadConfig(*path)
		if err != nil {
			return fail(err)
		}
		value, err := explainValue(res.Config, queryPath)
		if err != nil {
			return fail(err)
		}
		out, err := yaml.Marshal(value)
		if err != nil {
			return fail(err)
		}

		fmt.Printf("path: %s\n", queryPath)
		fmt.Printf("source: %s\n", res.SourceOf(queryPath))
		fmt.Printf("value:\n%s", string(out))
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", args[0])
		return 2
	}
}

// explainValue returns the YAML node at a dotted path of cfg.
func explainValue(cfg *config.Config, path string) (*yaml.Node, error) {
	data, err := cfg.Marshal()
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	cur := &doc
	if cur.Kind == yaml.DocumentNode && len(cur.Content) > 0 {
		cur = cur.Content[0]
	}
	for _, key := range strings.Split(path, ".") {
		if cur.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("unknown config path %q", path)
		}
		var next *yaml.Node
		for i := 0; i+1 < len(cur.Content); i += 2 {
			if cur.Content[i].Value == key {
				next = cur.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("unknown config path %q", path)
		}
		cur = next
	}
	return cur, nil
}
