// Command inspect prints what the game hub has persisted: one line per
// stored session with its sequence number, history depth and blob size, or
// the full decoded history of a single session. It also validates the
// template directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/gamehub/game/config"
	"github.com/wricardo/mcp-training/gamehub/game/history"
	"github.com/wricardo/mcp-training/gamehub/game/persist"
	"github.com/wricardo/mcp-training/gamehub/game/persist/sqlite"
	"github.com/wricardo/mcp-training/gamehub/game/state"
)

func main() {
	if err := newCommand(os.Stdout).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(1)
	}
}

func newCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:   "inspect",
		Usage:  "inspect persisted game hub sessions",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Value: config.StoreFile, Usage: "file or sqlite"},
			&cli.StringFlag{Name: "sessions-dir", Value: "sessions", Usage: "directory of the file store"},
			&cli.StringFlag{Name: "sqlite-path", Value: "gamehub.db", Usage: "database of the sqlite store"},
			&cli.StringFlag{Name: "templates-dir", Value: "templates", Usage: "directory of session templates"},
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "summarize every stored session",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withLoader(cmd, func(l persist.Loader) error {
						return listSessions(ctx, l, out)
					})
				},
			},
			{
				Name:      "show",
				Usage:     "print the decoded history of one session",
				ArgsUsage: "<session-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id := cmd.Args().First()
					if id == "" {
						return errors.New("session id is required")
					}
					return withLoader(cmd, func(l persist.Loader) error {
						return showSession(ctx, l, id, out)
					})
				},
			},
			{
				Name:  "verify",
				Usage: "decode every stored session and check snapshot hashes",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withLoader(cmd, func(l persist.Loader) error {
						return verifySessions(ctx, l, out)
					})
				},
			},
			{
				Name:  "templates",
				Usage: "validate every template file",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return checkTemplates(cmd.String("templates-dir"), out)
				},
			},
		},
	}
}

func withLoader(cmd *cli.Command, fn func(persist.Loader) error) error {
	switch driver := cmd.String("store"); driver {
	case config.StoreFile:
		fs, err := persist.NewFileStore(cmd.String("sessions-dir"))
		if err != nil {
			return err
		}
		return fn(fs)
	case config.StoreSQLite:
		db, err := sqlite.Open(cmd.String("sqlite-path"))
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(db)
	default:
		return fmt.Errorf("unknown store %q (want file or sqlite)", driver)
	}
}

func listSessions(ctx context.Context, l persist.Loader, out io.Writer) error {
	ids, err := l.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSEQ\tUNDO\tREDO\tBYTES\tHASH")
	for _, id := range ids {
		blob, err := l.Load(ctx, id)
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\terror: %v\n", id, err)
			continue
		}
		env, err := persist.Decode(blob, state.DocumentCodec{})
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%d\terror: %v\n", id, len(blob), err)
			continue
		}
		hash := "-"
		if cur, ok := env.Current(); ok {
			hash = strconv.FormatUint(cur.Hash, 16)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", id, env.Seq, len(env.Undo), len(env.Redo), len(blob), hash)
	}
	return tw.Flush()
}

func showSession(ctx context.Context, l persist.Loader, id string, out io.Writer) error {
	blob, err := l.Load(ctx, id)
	if err != nil {
		return err
	}
	env, err := persist.Decode(blob, state.DocumentCodec{})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Session: %s\n", env.SessionID)
	fmt.Fprintf(out, "Seq: %d  Stored: %d bytes\n", env.Seq, len(blob))

	fmt.Fprintf(out, "\nUndo stack (%d, oldest first):\n", len(env.Undo))
	printSnapshots(out, env.Undo)
	fmt.Fprintf(out, "\nRedo stack (%d, next redo last):\n", len(env.Redo))
	printSnapshots(out, env.Redo)

	if cur, ok := env.Current(); ok {
		fmt.Fprintln(out, "\nCurrent state:")
		var pretty json.RawMessage = cur.Bytes()
		data, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			data = cur.Bytes()
		}
		fmt.Fprintln(out, string(data))
	}
	return nil
}

func printSnapshots(out io.Writer, snaps []history.Snapshot) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  SEQ\tHASH\tUNDOABLE\tBYTES")
	for _, s := range snaps {
		fmt.Fprintf(tw, "  %d\t%x\t%t\t%d\n", s.Seq, s.Hash, s.State.Undoable(), len(s.Bytes()))
	}
	tw.Flush()
}

func verifySessions(ctx context.Context, l persist.Loader, out io.Writer) error {
	ids, err := l.List(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, id := range ids {
		blob, err := l.Load(ctx, id)
		if err == nil {
			_, err = persist.Decode(blob, state.DocumentCodec{})
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", id, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", id)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d sessions failed verification", failed, len(ids))
	}
	return nil
}

func checkTemplates(dir string, out io.Writer) error {
	m, err := config.NewManager(dir)
	if err != nil {
		return err
	}
	checks, err := m.ValidateAll()
	if err != nil {
		return err
	}

	var failed int
	for _, c := range checks {
		if c.Err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", c.TemplateID, c.Err)
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", c.TemplateID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d templates are invalid", failed, len(checks))
	}
	return nil
}
