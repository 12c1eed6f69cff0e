// Command automergectl is a command-line front end for the document engine
// in pkg/document: each invocation opens (or creates) a badger-backed
// document at --data-dir, performs one operation, and exits.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lattice-crdt/automerge/pkg/actorid"
	"github.com/lattice-crdt/automerge/pkg/codec"
	"github.com/lattice-crdt/automerge/pkg/docconfig"
	"github.com/lattice-crdt/automerge/pkg/document"
	"github.com/lattice-crdt/automerge/pkg/materialize"
	"github.com/lattice-crdt/automerge/pkg/opid"
	"github.com/lattice-crdt/automerge/pkg/value"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "automergectl",
		Short: "automergectl - inspect and edit Automerge-style CRDT documents",
		Long: `automergectl operates on a single CRDT document persisted at --data-dir.

Each object inside the document is addressed by a slash-separated path of
map keys starting from the root, e.g. "/profile/name". The root object
itself is addressed by "" or "/".`,
	}
	rootCmd.PersistentFlags().String("data-dir", "./data", "document data directory")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("automergectl v%s\n", version)
			},
		},
		newInitCmd(),
		newPutCmd(),
		newGetCmd(),
		newSpliceCmd(),
		newCommitCmd(),
		newSaveCmd(),
		newLoadCmd(),
		newHeadsCmd(),
		newLogCmd(),
		newMergeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dataDir(cmd *cobra.Command) (string, error) {
	return cmd.Flags().GetString("data-dir")
}

func openDoc(cmd *cobra.Command) (*document.Document, error) {
	dir, err := dataDir(cmd)
	if err != nil {
		return nil, err
	}
	cfg := docconfig.Default()
	cfg.DataDir = dir
	d, err := document.OpenPersistent(actorid.Root, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening document at %s: %w", dir, err)
	}
	return d, nil
}

// resolvePath walks a slash-separated chain of map keys from the document
// root and returns the object it names. "" and "/" both name the root.
func resolvePath(d *document.Document, path string) (opid.ObjId, error) {
	cur := opid.Root
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		entry, ok, err := d.MapGet(cur, seg)
		if err != nil {
			return opid.ObjId{}, fmt.Errorf("resolving path segment %q: %w", seg, err)
		}
		if !ok {
			return opid.ObjId{}, fmt.Errorf("path segment %q: no such key", seg)
		}
		if !entry.IsObj {
			return opid.ObjId{}, fmt.Errorf("path segment %q does not name an object", seg)
		}
		cur = entry.ObjID
	}
	return cur, nil
}

// parseValue turns a raw CLI string into a value.ScalarValue per the
// requested --type. The zero type is "str".
func parseValue(raw, typ string) (value.ScalarValue, error) {
	switch typ {
	case "", "str", "string":
		return value.Str(raw), nil
	case "int":
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return value.ScalarValue{}, fmt.Errorf("parsing int %q: %w", raw, err)
		}
		return value.Int(i), nil
	case "uint":
		u, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return value.ScalarValue{}, fmt.Errorf("parsing uint %q: %w", raw, err)
		}
		return value.Uint(u), nil
	case "float", "f64":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return value.ScalarValue{}, fmt.Errorf("parsing float %q: %w", raw, err)
		}
		return value.F64(f), nil
	case "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return value.ScalarValue{}, fmt.Errorf("parsing bool %q: %w", raw, err)
		}
		return value.Bool(b), nil
	case "counter":
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return value.ScalarValue{}, fmt.Errorf("parsing counter %q: %w", raw, err)
		}
		return value.Counter(i), nil
	case "timestamp":
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return value.ScalarValue{}, fmt.Errorf("parsing timestamp %q: %w", raw, err)
		}
		return value.Timestamp(i), nil
	case "null":
		return value.Null, nil
	default:
		return value.ScalarValue{}, fmt.Errorf("unknown --type %q", typ)
	}
}

func formatEntry(e materialize.Entry) string {
	if e.IsObj {
		return fmt.Sprintf("<%s %s>", e.ObjType, e.ObjID)
	}
	return e.Value.String()
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty document at --data-dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dataDir(cmd)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
			d, err := openDoc(cmd)
			if err != nil {
				return err
			}
			defer d.Close()
			fmt.Printf("initialized document %s in %s\n", d.GetActor(), dir)
			return nil
		},
	}
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <path> <key> <value>",
		Short: "Set a key on the map object at <path>",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDoc(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			obj, err := resolvePath(d, args[0])
			if err != nil {
				return err
			}
			typ, _ := cmd.Flags().GetString("type")
			v, err := parseValue(args[2], typ)
			if err != nil {
				return err
			}
			if _, err := d.MapPut(obj, args[1], v); err != nil {
				return fmt.Errorf("put: %w", err)
			}
			msg, _ := cmd.Flags().GetString("message")
			hash, changed, err := d.Commit(msg, time.Now())
			if err != nil {
				return fmt.Errorf("committing put: %w", err)
			}
			if changed {
				fmt.Println(hash)
			}
			return nil
		},
	}
	cmd.Flags().String("type", "str", "value type: str|int|uint|float|bool|counter|timestamp|null")
	cmd.Flags().String("message", "", "commit message")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path> <key>",
		Short: "Print a key from the map object at <path>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDoc(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			obj, err := resolvePath(d, args[0])
			if err != nil {
				return err
			}
			entry, ok, err := d.MapGet(obj, args[1])
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			if !ok {
				return fmt.Errorf("no such key %q at %q", args[1], args[0])
			}
			fmt.Println(formatEntry(entry))
			return nil
		},
	}
}

func newSpliceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "splice <path> <index> <delete-count> [items...]",
		Short: "Splice the list object at <path>",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDoc(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			obj, err := resolvePath(d, args[0])
			if err != nil {
				return err
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("parsing index %q: %w", args[1], err)
			}
			deleteCount, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("parsing delete-count %q: %w", args[2], err)
			}
			typ, _ := cmd.Flags().GetString("type")
			items := make([]value.ScalarValue, 0, len(args)-3)
			for _, raw := range args[3:] {
				v, err := parseValue(raw, typ)
				if err != nil {
					return err
				}
				items = append(items, v)
			}
			if _, err := d.Splice(obj, index, deleteCount, items); err != nil {
				return fmt.Errorf("splice: %w", err)
			}
			msg, _ := cmd.Flags().GetString("message")
			hash, changed, err := d.Commit(msg, time.Now())
			if err != nil {
				return fmt.Errorf("committing splice: %w", err)
			}
			if changed {
				fmt.Println(hash)
			}
			return nil
		},
	}
	cmd.Flags().String("type", "str", "item type: str|int|uint|float|bool|counter|timestamp|null")
	cmd.Flags().String("message", "", "commit message")
	return cmd
}

func newCommitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit any staged changes",
		Long: `put and splice already commit immediately after staging their op,
since a CLI process never outlives its own invocation. commit exists for
scripting symmetry and reports whether there was anything to commit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDoc(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			msg, _ := cmd.Flags().GetString("message")
			hash, changed, err := d.Commit(msg, time.Now())
			if err != nil {
				return fmt.Errorf("commit: %w", err)
			}
			if !changed {
				fmt.Println("nothing staged")
				return nil
			}
			fmt.Println(hash)
			return nil
		},
	}
	cmd.Flags().String("message", "", "commit message")
	return cmd
}

func newSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <out-file>",
		Short: "Write the full document to a save-format file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDoc(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := os.WriteFile(args[0], d.Save(), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", args[0], err)
			}
			return nil
		},
	}
}

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <in-file>",
		Short: "Merge a save-format file's changes into the document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			changes, err := codec.DecodeDocument(b)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", args[0], err)
			}

			d, err := openDoc(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			applied, err := d.ApplyChanges(changes)
			if err != nil {
				return fmt.Errorf("applying %s: %w", args[0], err)
			}
			fmt.Printf("applied %d change(s)\n", len(applied))
			return nil
		},
	}
}

func newHeadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heads",
		Short: "Print the document's current head hashes",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDoc(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			for _, h := range d.GetHeads() {
				fmt.Println(h)
			}
			return nil
		},
	}
}

func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Print the change history in causal order",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDoc(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			for _, c := range d.GetChanges(nil) {
				deps := make([]string, len(c.Deps))
				for i, dh := range c.Deps {
					deps[i] = dh.String()
				}
				fmt.Printf("%s actor=%s seq=%d deps=[%s] %s\n",
					c.Hash(), c.Actor, c.Seq, strings.Join(deps, ","), c.Message)
			}
			return nil
		},
	}
}

func newMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <other-file>",
		Short: "Merge another document's save-format file into this one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			changes, err := codec.DecodeDocument(b)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", args[0], err)
			}

			d, err := openDoc(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			applied, err := d.ApplyChanges(changes)
			if err != nil {
				return fmt.Errorf("merging %s: %w", args[0], err)
			}
			fmt.Printf("merged %d new change(s); heads:\n", len(applied))
			for _, h := range d.GetHeads() {
				fmt.Println(h)
			}
			return nil
		},
	}
}
