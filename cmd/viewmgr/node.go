package main

import (
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/1broseidon/viewmgr/internal/bitmap"
	"github.com/1broseidon/viewmgr/internal/ipc"
	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/platform"
	"github.com/1broseidon/viewmgr/internal/snapshot"
)

func printNodeUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  viewmgr node create --connection N [--id C:L] [--parent C:L] [--show]")
	fmt.Fprintln(w, "  viewmgr node add <parent> <child>")
	fmt.Fprintln(w, "  viewmgr node remove <parent> <child>")
	fmt.Fprintln(w, "  viewmgr node reorder <node> above|below <relative>")
	fmt.Fprintln(w, "  viewmgr node show|hide <node>")
	fmt.Fprintln(w, "  viewmgr node bounds <node> <x> <y> <width> <height>")
	fmt.Fprintln(w, "  viewmgr node bitmap [--encoding none|lz4|zstd] <node> <file.png|->")
	fmt.Fprintln(w, "  viewmgr node bitmap --clear <node>")
	fmt.Fprintln(w, "  viewmgr node destroy --policy promote|cascade|hold <node>")
	fmt.Fprintln(w, "  viewmgr node info [--json] <node>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Node ids are written connection:local, e.g. 0:1 for the root node.")
}

func runNode(args []string) int {
	if len(args) == 0 {
		printNodeUsage(os.Stderr)
		return 2
	}
	if isHelp(args[0]) {
		printNodeUsage(os.Stdout)
		return 0
	}

	client := ipc.NewClient()
	rest := args[1:]

	switch args[0] {
	case "create":
		return runNodeCreate(client, rest)
	case "add", "remove":
		return runNodeParentChild(client, args[0], rest)
	case "reorder":
		return runNodeReorder(client, rest)
	case "show", "hide":
		return runNodeVisible(client, args[0], rest)
	case "bounds":
		return runNodeBounds(client, rest)
	case "bitmap":
		return runNodeBitmap(client, rest)
	case "destroy":
		return runNodeDestroy(client, rest)
	case "info":
		return runNodeInfo(client, rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown node command: %s\n\n", args[0])
		printNodeUsage(os.Stderr)
		return 2
	}
}

func runNodeCreate(client *ipc.Client, args []string) int {
	fs := newFlagSet("create", "viewmgr node create --connection N [--id C:L] [--parent C:L] [--show]",
		"Create a hidden, parentless node and print its id.")
	connFlag := fs.Uint32P("connection", "c", 0, "Owning connection (from 'viewmgr connect')")
	idFlag := fs.String("id", "", "Create with this id instead of the next free one")
	parentFlag := fs.StringP("parent", "p", "", "Add the new node on top of this parent")
	show := fs.Bool("show", false, "Make the node visible")
	if code := parseFlags(fs, args, 0, 0); code >= 0 {
		return code
	}

	var id node.ID
	var err error
	if *idFlag != "" {
		id, err = node.ParseID(*idFlag)
		if err != nil {
			return fail(err)
		}
		if err := client.CreateNodeWithID(id); err != nil {
			return fail(err)
		}
	} else {
		if *connFlag == 0 {
			fmt.Fprintln(os.Stderr, "node create requires --connection or --id")
			return 2
		}
		id, err = client.CreateNode(node.ConnectionID(*connFlag))
		if err != nil {
			return fail(err)
		}
	}

	if *parentFlag != "" {
		parent, err := node.ParseID(*parentFlag)
		if err != nil {
			return fail(err)
		}
		if err := client.AddNode(parent, id); err != nil {
			return fail(fmt.Errorf("created %s but could not add it to %s: %w", id, parent, err))
		}
	}
	if *show {
		if err := client.SetVisible(id, true); err != nil {
			return fail(fmt.Errorf("created %s but could not show it: %w", id, err))
		}
	}
	fmt.Println(id)
	return 0
}

func runNodeParentChild(client *ipc.Client, cmd string, args []string) int {
	fs := newFlagSet(cmd, "viewmgr node "+cmd+" <parent> <child>", "")
	if code := parseFlags(fs, args, 2, 2); code >= 0 {
		return code
	}
	ids, err := parseIDs(fs.Args())
	if err != nil {
		return fail(err)
	}
	if cmd == "add" {
		err = client.AddNode(ids[0], ids[1])
	} else {
		err = client.RemoveNode(ids[0], ids[1])
	}
	if err != nil {
		return fail(err)
	}
	return 0
}

func runNodeReorder(client *ipc.Client, args []string) int {
	fs := newFlagSet("reorder", "viewmgr node reorder <node> above|below <relative>",
		"Move a node directly above or below a sibling.")
	if code := parseFlags(fs, args, 3, 3); code >= 0 {
		return code
	}
	dir, err := node.ParseDirection(strings.ToLower(fs.Arg(1)))
	if err != nil {
		return fail(err)
	}
	ids, err := parseIDs([]string{fs.Arg(0), fs.Arg(2)})
	if err != nil {
		return fail(err)
	}
	if err := client.ReorderNode(ids[0], ids[1], dir); err != nil {
		return fail(err)
	}
	return 0
}

func runNodeVisible(client *ipc.Client, cmd string, args []string) int {
	fs := newFlagSet(cmd, "viewmgr node "+cmd+" <node>", "")
	if code := parseFlags(fs, args, 1, 1); code >= 0 {
		return code
	}
	id, err := node.ParseID(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	if err := client.SetVisible(id, cmd == "show"); err != nil {
		return fail(err)
	}
	return 0
}

func runNodeBounds(client *ipc.Client, args []string) int {
	fs := newFlagSet("bounds", "viewmgr node bounds <node> <x> <y> <width> <height>",
		"Move and resize a node relative to its parent.")
	fs.SetInterspersed(false)
	if code := parseFlags(fs, args, 5, 5); code >= 0 {
		return code
	}
	id, err := node.ParseID(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	bounds, err := parseRect(fs.Args()[1:])
	if err != nil {
		return fail(err)
	}
	if err := client.SetBounds(id, bounds); err != nil {
		return fail(err)
	}
	return 0
}

func runNodeBitmap(client *ipc.Client, args []string) int {
	fs := newFlagSet("bitmap", "viewmgr node bitmap [--encoding none|lz4|zstd] <node> <file.png|->",
		"Replace a node's contents with a PNG image. Use - to read standard input.")
	encFlag := fs.StringP("encoding", "e", string(bitmap.EncodingZstd), "Payload compression over IPC")
	clearFlag := fs.Bool("clear", false, "Clear the node's contents instead")
	if code := parseFlags(fs, args, 1, 2); code >= 0 {
		return code
	}
	id, err := node.ParseID(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	if *clearFlag {
		if err := client.SetBitmap(id, nil, bitmap.EncodingNone); err != nil {
			return fail(err)
		}
		return 0
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "node bitmap requires <file.png> or --clear")
		return 2
	}
	enc, err := bitmap.ParseEncoding(*encFlag)
	if err != nil {
		return fail(err)
	}
	img, err := readPNG(fs.Arg(1))
	if err != nil {
		return fail(err)
	}
	if err := client.SetBitmap(id, img, enc); err != nil {
		return fail(err)
	}
	fmt.Printf("%s %dx%d %s\n", id, img.Rect.Dx(), img.Rect.Dy(), bitmap.Sum(img).Short())
	return 0
}

func runNodeDestroy(client *ipc.Client, args []string) int {
	fs := newFlagSet("destroy", "viewmgr node destroy --policy promote|cascade|hold <node>",
		"Destroy a node. The policy decides what happens to its children.")
	policyName := fs.String("policy", "", "promote, cascade or hold (required)")
	if code := parseFlags(fs, args, 1, 1); code >= 0 {
		return code
	}
	id, err := node.ParseID(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	policy, err := node.ParseOrphanPolicy(strings.ToLower(*policyName))
	if err != nil {
		return fail(err)
	}
	if err := client.DestroyNode(id, policy); err != nil {
		return fail(err)
	}
	return 0
}

func runNodeInfo(client *ipc.Client, args []string) int {
	fs := newFlagSet("info", "viewmgr node info [--json] <node>", "")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if code := parseFlags(fs, args, 1, 1); code >= 0 {
		return code
	}
	id, err := node.ParseID(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	info, err := client.GetNode(id)
	if err != nil {
		return fail(err)
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(info); err != nil {
			return fail(err)
		}
		return 0
	}
	printNodeInfo(os.Stdout, info)
	return 0
}

func printNodeInfo(w io.Writer, info *snapshot.NodeInfo) {
	parent := "-"
	if !info.Parent.IsZero() {
		parent = info.Parent.String()
	}
	children := make([]string, 0, len(info.Children))
	for _, c := range info.Children {
		children = append(children, c.String())
	}
	fmt.Fprintf(w, "id:       %s\n", info.ID)
	fmt.Fprintf(w, "parent:   %s\n", parent)
	fmt.Fprintf(w, "children: %s\n", strings.Join(children, " "))
	fmt.Fprintf(w, "visible:  %v\n", info.Visible)
	fmt.Fprintf(w, "drawn:    %v\n", info.Drawn)
	fmt.Fprintf(w, "bounds:   %s\n", info.Bounds)
	if info.BitmapDigest != "" {
		fmt.Fprintf(w, "bitmap:   %dx%d %s\n", info.BitmapWidth, info.BitmapHeight, info.BitmapDigest)
	}
}

func parseIDs(args []string) ([]node.ID, error) {
	ids := make([]node.ID, 0, len(args))
	for _, a := range args {
		id, err := node.ParseID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseRect(args []string) (platform.Rect, error) {
	if len(args) != 4 {
		return platform.Rect{}, fmt.Errorf("bounds need x y width height")
	}
	var v [4]int
	for i, a := range args {
		if _, err := fmt.Sscan(a, &v[i]); err != nil {
			return platform.Rect{}, fmt.Errorf("invalid bounds value %q", a)
		}
	}
	r := platform.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	if r.Width < 0 || r.Height < 0 {
		return platform.Rect{}, fmt.Errorf("negative size %dx%d", r.Width, r.Height)
	}
	return r, nil
}

func readPNG(path string) (*image.RGBA, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	src, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return toRGBA(src), nil
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
	return dst
}
