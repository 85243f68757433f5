// Command chatcli is a terminal client for one club chat room.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/thereayou/clubchat/internal/client"
	pkgconfig "github.com/thereayou/clubchat/pkg/config"
	applog "github.com/thereayou/clubchat/pkg/log"
)

var errQuit = errors.New("quit")

type options struct {
	Server   string
	Token    string
	Room     uint64
	LogLevel string
}

func loadOptions(args []string) (options, error) {
	fs := pflag.NewFlagSet("chatcli", pflag.ContinueOnError)
	fs.String("server", "http://localhost:8080", "server base URL")
	fs.String("token", "", "bearer token")
	fs.Uint64("room", 0, "club id to join")
	fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	v, err := pkgconfig.Load("./config", "chatcli")
	if err != nil {
		return options{}, err
	}
	v.SetEnvPrefix("chat")
	for key, flag := range map[string]string{
		"server":    "server",
		"token":     "token",
		"room":      "room",
		"log.level": "log-level",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return options{}, err
		}
	}
	return optionsFrom(v)
}

func optionsFrom(v *viper.Viper) (options, error) {
	opts := options{
		Server:   strings.TrimRight(v.GetString("server"), "/"),
		Token:    v.GetString("token"),
		Room:     v.GetUint64("room"),
		LogLevel: v.GetString("log.level"),
	}
	if opts.Token == "" {
		return opts, errors.New("a token is required (--token or CHAT_TOKEN)")
	}
	if opts.Room == 0 {
		return opts, errors.New("a room is required (--room or CHAT_ROOM)")
	}
	return opts, nil
}

// socketURL maps http(s)://host to ws(s)://host/ws.
func socketURL(server string) string {
	switch {
	case strings.HasPrefix(server, "https://"):
		return "wss://" + strings.TrimPrefix(server, "https://") + "/ws"
	case strings.HasPrefix(server, "http://"):
		return "ws://" + strings.TrimPrefix(server, "http://") + "/ws"
	}
	return server + "/ws"
}

func main() {
	_ = godotenv.Load()

	opts, err := loadOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = applog.WithLogger(ctx, logger)

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		logger.Error().Err(err).Msg("chatcli stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	api := client.NewHTTPAPI(opts.Server, opts.Token, 20*time.Second)

	meCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	self, err := api.Me(meCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("who am i: %w", err)
	}

	sock, err := client.NewSocket(socketURL(opts.Server), opts.Token)
	if err != nil {
		return err
	}

	r := newRenderer(out)
	views := make(chan client.View, 1)
	notices := make(chan client.Notice, 16)

	cfg := client.DefaultConfig()
	cfg.RoomID = opts.Room
	cfg.Self = self
	cfg.OnChange = func(v client.View) { latest(views, v) }
	cfg.OnNotice = func(n client.Notice) {
		select {
		case notices <- n:
		default:
		}
	}
	engine := client.NewEngine(cfg, api, sock, nil)

	fmt.Fprintf(out, "joined room %d as %s. /help for commands\n", opts.Room, self.DisplayName)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		engine.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return sock.Run(ctx, engine)
	})
	g.Go(func() error {
		for {
			select {
			case v := <-views:
				r.render(v)
			case n := <-notices:
				r.notice(n)
			case <-ctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		return readInput(ctx, in, engine, func(s string) { fmt.Fprintln(out, s) })
	})

	engine.Open()

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// latest replaces whatever view is still queued. OnChange has a single caller.
func latest(ch chan client.View, v client.View) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}

func readInput(ctx context.Context, in io.Reader, engine *client.Engine, say func(string)) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			cmd, err := parseCommand(line)
			if errors.Is(err, errEmpty) {
				continue
			}
			if err != nil {
				say(err.Error())
				continue
			}
			if dispatch(engine, cmd, say) {
				return errQuit
			}
		}
	}
}

// dispatch runs cmd and reports whether the client should exit.
func dispatch(engine *client.Engine, cmd command, say func(string)) bool {
	switch cmd.kind {
	case cmdSend:
		engine.Send(cmd.text, nil)
	case cmdReply:
		id := cmd.id
		engine.Send(cmd.text, &id)
	case cmdEdit:
		engine.Edit(cmd.id, cmd.text)
	case cmdDelete:
		engine.Delete(cmd.id, cmd.all)
	case cmdUnsend:
		engine.Unsend(cmd.id)
	case cmdRetry:
		for _, e := range engine.Snapshot().Entries {
			if ref, ok := e.Ref.(client.LocalRef); ok && e.Status == client.StatusFailed {
				engine.Retry(ref.TempID)
			}
		}
	case cmdOlder:
		engine.LoadOlder()
	case cmdHelp:
		say(usage)
	case cmdQuit:
		return true
	}
	return false
}
