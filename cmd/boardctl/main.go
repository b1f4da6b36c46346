// boardctl drives a signalboard relay from the terminal. One-shot commands
// publish a single event and wait for the hub to broadcast it back; watch
// stays connected and prints every broadcast with its sound cue.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/signalboard/signalboard/internal/audio"
	"github.com/signalboard/signalboard/internal/client"
	"github.com/signalboard/signalboard/internal/config"
	"github.com/signalboard/signalboard/internal/protocol"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	_ = godotenv.Load()

	url := os.Getenv("SIGNALBOARD_URL")
	if url == "" {
		url = "ws://localhost:3000/api/socket"
	}

	var (
		timeout  time.Duration
		roomFile string
		logLevel string
		muted    bool
		volume   float64
	)
	flagSet := pflag.NewFlagSet("boardctl", pflag.ContinueOnError)
	flagSet.StringVar(&url, "url", url, "relay websocket url")
	flagSet.DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the hub")
	flagSet.StringVar(&roomFile, "rooms", os.Getenv("ROOMS_FILE"), "YAML room catalog")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level")
	flagSet.BoolVar(&muted, "mute", false, "watch: do not print sound cues")
	flagSet.Float64Var(&volume, "volume", 1, "watch: cue volume between 0 and 1")
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: boardctl [flags] <command> [args]

Commands:
  send <room-id> <delay|water|cancel|custom> [text]
  seen <message-id>
  resolve <message-id> [room-id]
  cancel <message-id>
  state <state1|state2|state3|state4|custom|idle>
  custom <text>
  action <action1|action2|action3|action4>
  reset
  watch

Flags:
%s`, flagSet.FlagUsages())
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Logger().
		Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rest := flagSet.Args()
	if len(rest) > 0 && rest[0] == "watch" {
		settings := audio.NewSettings(!muted, volume)
		announcer := audio.NewAnnouncer(settings, audio.DefaultCues(), audio.WriterPlayer{W: out}, logger)
		return watch(ctx, url, announcer, logger, out)
	}

	rooms, err := loadRooms(roomFile)
	if err != nil {
		return err
	}
	cmd, err := parseCommand(rest, rooms)
	if err != nil {
		return err
	}
	return publish(ctx, url, cmd, timeout, logger, out)
}

func loadRooms(path string) (*protocol.Catalog, error) {
	if path == "" {
		return protocol.NewCatalog(protocol.DefaultRooms())
	}
	return config.LoadRooms(path)
}

// publish connects, emits cmd once and waits for the hub's broadcast of it
// or an error frame.
func publish(ctx context.Context, url string, cmd command, timeout time.Duration, logger zerolog.Logger, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a := client.New(client.Options{URL: url, Logger: logger})

	connected := make(chan struct{}, 1)
	a.OnConnectionChange(func(up bool) {
		if up {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	// The hub sends error frames to the sender only, so any error is ours.
	result := make(chan protocol.Payload, 1)
	a.OnEvent(func(p protocol.Payload) {
		if _, isErr := p.(protocol.Error); !isErr && !cmd.match(p) {
			return
		}
		select {
		case result <- p:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case <-connected:
	case <-ctx.Done():
		return fmt.Errorf("connect to %s: %w", url, ctx.Err())
	}

	cmd.emit(a)

	select {
	case p := <-result:
		if e, ok := p.(protocol.Error); ok {
			return fmt.Errorf("hub rejected %s: %s", cmd.payload.Event(), e.Message)
		}
		fmt.Fprintln(out, describe(p, displayContent(a)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no confirmation from hub: %w", ctx.Err())
	}
}

// watch prints every broadcast until ctx is done.
func watch(ctx context.Context, url string, announcer *audio.Announcer, logger zerolog.Logger, out io.Writer) error {
	a := client.New(client.Options{URL: url, Logger: logger, Announcer: announcer})
	a.OnConnectionChange(func(up bool) {
		if up {
			fmt.Fprintf(out, "connected to %s\n", url)
			return
		}
		fmt.Fprintln(out, "disconnected, retrying")
	})
	a.OnEvent(func(p protocol.Payload) {
		fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05"), describe(p, displayContent(a)))
	})

	err := a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// displayContent looks up catering text in the adapter's message store.
func displayContent(a *client.Adapter) messageLookup {
	return func(id string) (string, bool) {
		m, ok := a.Messages().Get(id)
		if !ok {
			return "", false
		}
		return m.DisplayContent(), true
	}
}
