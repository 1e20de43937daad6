// CodeCollab CLI - command line client for the CodeCollab relay
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/codecollab/codecollab/clients/go/collab"
)

const version = "0.2.0"

const usage = `CodeCollab CLI.

Usage:
    collab health [--api=<url>]
    collab register <email> [<name>] [--password=<password>] [--api=<url>]
    collab login <email> [--password=<password>] [--api=<url>]
    collab rooms [--limit=<n>] [--token=<token>] [--api=<url>]
    collab room <name> [--token=<token>] [--api=<url>]
    collab user <id> [--api=<url>]
    collab stats [--api=<url>]
    collab join <room> [--user=<user>] [--token=<token>] [--ws=<url>] [--verbose]
    collab -h | --help
    collab --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --api=<url>            API base (default: $COLLAB_API_BASE or http://localhost:5000).
    --ws=<url>             WebSocket base (default: $COLLAB_WS_BASE or ws://localhost:5000/ws).
    --token=<token>        Session token (default: $COLLAB_TOKEN).
    --password=<password>  Account password.
    --limit=<n>            Rooms to list [default: 20].
    --user=<user>          Label shown to peers [default: guest].
    --verbose              Log connection details to stderr.

join reads stdin line by line; every line is appended to the shared buffer
and broadcast. Updates from peers are printed to stdout.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		exitOnError(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	apiBase, _ := opts.String("--api")
	client := collab.NewClient(apiBase)
	client.Token = token(opts)

	switch {
	case flag(opts, "health"):
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case flag(opts, "register"):
		email, _ := opts.String("<email>")
		name, _ := opts.String("<name>")
		password, _ := opts.String("--password")
		resp, err := client.Register(ctx, email, name, password)
		exitOnError(err)
		fmt.Printf("Registered as: %s\n", resp.ID)

	case flag(opts, "login"):
		email, _ := opts.String("<email>")
		password, _ := opts.String("--password")
		resp, err := client.Login(ctx, email, password)
		exitOnError(err)
		fmt.Printf("export COLLAB_TOKEN=%s\n", resp.AccessToken)

	case flag(opts, "rooms"):
		limit, err := opts.Int("--limit")
		if err != nil {
			limit = 20
		}
		resp, err := client.ListRooms(ctx, limit, 0)
		exitOnError(err)
		for _, r := range resp.Rooms {
			fmt.Printf("  %-24s %3d online  %5d edits  %s\n", r.Name, r.Online, r.EditCount, r.LastActive)
		}
		fmt.Printf("%d rooms\n", resp.Total)

	case flag(opts, "room"):
		name, _ := opts.String("<name>")
		resp, err := client.GetRoom(ctx, name)
		exitOnError(err)
		printJSON(resp)

	case flag(opts, "user"):
		id, _ := opts.String("<id>")
		resp, err := client.GetUser(ctx, id)
		exitOnError(err)
		printJSON(resp)

	case flag(opts, "stats"):
		resp, err := client.Stats(ctx)
		exitOnError(err)
		printJSON(resp)

	case flag(opts, "join"):
		exitOnError(join(ctx, opts))
	}
}

// join follows a room until stdin closes or the process is interrupted.
func join(ctx context.Context, opts docopt.Opts) error {
	room, _ := opts.String("<room>")
	user, _ := opts.String("--user")
	wsBase, _ := opts.String("--ws")

	level := zerolog.WarnLevel
	if flag(opts, "--verbose") {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()

	session, err := collab.NewSession(collab.Config{
		WSBase: wsBase,
		Room:   room,
		User:   user,
		Token:  token(opts),
		Logger: &logger,
		OnCodeUpdate: func(content string) {
			fmt.Println("----")
			fmt.Println(content)
		},
		OnSystem: func(ev collab.SystemEvent) {
			fmt.Fprintf(os.Stderr, "* %s\n", ev.Msg)
		},
		OnError: func(err error) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Open(ctx); err != nil {
		return err
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "joined %s as %s, type to edit (Ctrl-D to leave)\n", room, user)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				session.Flush()
				return nil
			}
			buf := session.Content()
			if buf != "" && !strings.HasSuffix(buf, "\n") {
				buf += "\n"
			}
			if err := session.Edit(buf + line); err != nil {
				return err
			}
		}
	}
}

func flag(opts docopt.Opts, key string) bool {
	v, _ := opts.Bool(key)
	return v
}

func token(opts docopt.Opts) string {
	if t, _ := opts.String("--token"); t != "" {
		return t
	}
	return os.Getenv("COLLAB_TOKEN")
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
