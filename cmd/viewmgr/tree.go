package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/1broseidon/viewmgr/internal/ipc"
	"github.com/1broseidon/viewmgr/internal/manager"
	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/runtimepath"
	"github.com/1broseidon/viewmgr/internal/snapshot"
)

type treeStyles struct {
	id     lipgloss.Style
	hidden lipgloss.Style
	meta   lipgloss.Style
	header lipgloss.Style
	plain  bool
}

func newTreeStyles(color bool) treeStyles {
	if !color {
		return treeStyles{plain: true}
	}
	return treeStyles{
		id:     lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true),
		hidden: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		meta:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		header: lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true),
	}
}

func (s treeStyles) render(style lipgloss.Style, text string) string {
	if s.plain {
		return text
	}
	return style.Render(text)
}

// terminalWidth returns the width of stdout, or 0 when it is not a
// terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}

// renderTree prints every parentless subtree of t. Children are listed top
// of the stack first. Lines are cut to width when width is positive.
func renderTree(w io.Writer, t *snapshot.Tree, styles treeStyles, width int) {
	idx := t.Index()
	fmt.Fprintln(w, styles.render(styles.header, fmt.Sprintf("%s  %d nodes  %s", t.Backend, len(t.Nodes), t.TakenAt.Format(time.RFC3339))))

	var visit func(id node.ID, prefix string, last, top bool)
	visit = func(id node.ID, prefix string, last, top bool) {
		info, ok := idx[id]
		if !ok {
			return
		}
		branch, next := "├── ", prefix+"│   "
		if last {
			branch, next = "└── ", prefix+"    "
		}
		if top {
			branch, next = "", ""
		}

		label := styles.render(styles.id, info.ID.String())
		if !info.Drawn {
			label = styles.render(styles.hidden, info.ID.String())
		}
		line := prefix + branch + label + " " + styles.render(styles.meta, nodeSummary(info))
		if width > 0 {
			line = lipgloss.NewStyle().MaxWidth(width).Render(line)
		}
		fmt.Fprintln(w, line)

		for i := len(info.Children) - 1; i >= 0; i-- {
			visit(info.Children[i], next, i == 0, false)
		}
	}
	for _, root := range t.Roots() {
		visit(root, "", true, true)
	}
}

func nodeSummary(info *snapshot.NodeInfo) string {
	parts := []string{info.Bounds.String()}
	switch {
	case info.Drawn:
		parts = append(parts, "drawn")
	case info.Visible:
		parts = append(parts, "visible")
	default:
		parts = append(parts, "hidden")
	}
	if info.BitmapDigest != "" {
		parts = append(parts, fmt.Sprintf("bitmap %dx%d %.8s", info.BitmapWidth, info.BitmapHeight, info.BitmapDigest))
	}
	if info.ID == node.HolderID {
		parts = append(parts, "orphan holder")
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func runTree(args []string) int {
	fs := newFlagSet("tree", "viewmgr tree [--json] [--no-color]", "Print the live node tree.")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	noColor := fs.Bool("no-color", false, "Disable styling")
	if code := parseFlags(fs, args, 0, 0); code >= 0 {
		return code
	}
	tree, err := ipc.NewClient().GetTree()
	if err != nil {
		return fail(err)
	}
	return printTree(tree, *jsonOut, *noColor)
}

func printTree(tree *snapshot.Tree, jsonOut, noColor bool) int {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tree); err != nil {
			return fail(err)
		}
		return 0
	}
	width := terminalWidth()
	renderTree(os.Stdout, tree, newTreeStyles(width > 0 && !noColor), width)
	return 0
}

func runEvents(args []string) int {
	fs := newFlagSet("events", "viewmgr events [--since SEQ] [--follow] [--json]",
		"Print node events after a sequence number.")
	since := fs.Uint64("since", 0, "Print events after this sequence number")
	follow := fs.BoolP("follow", "f", false, "Keep waiting for new events")
	jsonOut := fs.Bool("json", false, "Print one JSON object per event")
	if code := parseFlags(fs, args, 0, 0); code >= 0 {
		return code
	}

	client := ipc.NewClient()
	enc := json.NewEncoder(os.Stdout)
	cursor := *since
	for {
		var wait time.Duration
		if *follow {
			wait = ipc.MaxEventWait
		}
		events, seq, err := client.GetEvents(cursor, wait)
		if err != nil {
			return fail(err)
		}
		for _, ev := range events {
			if *jsonOut {
				if err := enc.Encode(ev); err != nil {
					return fail(err)
				}
				continue
			}
			fmt.Println(formatEvent(ev))
		}
		if len(events) > 0 {
			cursor = events[len(events)-1].Seq
		} else if seq > cursor {
			// Events older than the journal were dropped.
			cursor = seq
		}
		if !*follow {
			return 0
		}
	}
}

func formatEvent(ev manager.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%6d %s %-10s %s", ev.Seq, ev.Time.Local().Format("15:04:05.000"), ev.Kind, ev.Node)
	switch ev.Kind {
	case manager.EventHierarchy:
		fmt.Fprintf(&b, " child=%s from=%s to=%s", ev.Child, optionalID(ev.OldParent), optionalID(ev.NewParent))
	case manager.EventStacking:
		fmt.Fprintf(&b, " child=%s %s %s", ev.Child, ev.Direction, ev.Relative)
	case manager.EventVisibility:
		if ev.Visible != nil {
			fmt.Fprintf(&b, " visible=%v", *ev.Visible)
		}
	case manager.EventBounds:
		if ev.OldBounds != nil && ev.Bounds != nil {
			fmt.Fprintf(&b, " %s -> %s", *ev.OldBounds, *ev.Bounds)
		}
	case manager.EventBitmap:
		if ev.Bitmap == "" {
			b.WriteString(" cleared")
		} else {
			fmt.Fprintf(&b, " %.16s", ev.Bitmap)
		}
	}
	return b.String()
}

func optionalID(id node.ID) string {
	if id.IsZero() {
		return "-"
	}
	return id.String()
}

func printSnapshotUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  viewmgr snapshot write [name]")
	fmt.Fprintln(w, "  viewmgr snapshot show [--json] [--no-color] [path]")
}

func runSnapshot(args []string) int {
	if len(args) == 0 {
		printSnapshotUsage(os.Stderr)
		return 2
	}
	if isHelp(args[0]) {
		printSnapshotUsage(os.Stdout)
		return 0
	}

	switch args[0] {
	case "write":
		fs := newFlagSet("write", "viewmgr snapshot write [name]",
			"Ask the daemon to write the tree to a CBOR file in its snapshot directory (default: its snapshot path).")
		if code := parseFlags(fs, args[1:], 0, 1); code >= 0 {
			return code
		}
		data, err := ipc.NewClient().Snapshot(fs.Arg(0))
		if err != nil {
			return fail(err)
		}
		fmt.Printf("%s (%d nodes)\n", data.Path, data.Nodes)
		return 0

	case "show":
		fs := newFlagSet("show", "viewmgr snapshot show [--json] [--no-color] [path]",
			"Print a snapshot file written by the daemon.")
		jsonOut := fs.Bool("json", false, "Output as JSON")
		noColor := fs.Bool("no-color", false, "Disable styling")
		if code := parseFlags(fs, args[1:], 0, 1); code >= 0 {
			return code
		}
		path := fs.Arg(0)
		if path == "" {
			res, err := loadConfig("")
			if err != nil {
				return fail(err)
			}
			path, err = snapshotPath(res.Config.Snapshot.Path)
			if err != nil {
				return fail(err)
			}
		}
		tree, err := snapshot.ReadFile(path)
		if err != nil {
			return fail(err)
		}
		return printTree(tree, *jsonOut, *noColor)

	default:
		fmt.Fprintf(os.Stderr, "Unknown snapshot command: %s\n\n", args[0])
		printSnapshotUsage(os.Stderr)
		return 2
	}
}

func snapshotPath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return runtimepath.SnapshotPath()
}
