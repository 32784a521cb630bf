// ABOUTME: watch subcommand that follows a notification stream from the terminal
// ABOUTME: Reconnects with the subscriber's policy and prints each event as it arrives

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/carlot-notify/internal/client"
	"github.com/2389/carlot-notify/internal/config"
	"github.com/2389/carlot-notify/internal/notify"
	"github.com/2389/carlot-notify/internal/sse"
)

// streamPath maps a --stream value to its endpoint path.
func streamPath(stream string) (string, error) {
	switch {
	case stream == "admin":
		return "/api/stream/admin", nil
	case stream == "me":
		return "/api/stream/me", nil
	case strings.HasPrefix(stream, "conversation:"):
		vehicleID := strings.TrimPrefix(stream, "conversation:")
		if vehicleID == "" {
			return "", errors.New("conversation stream needs a vehicle id")
		}
		return "/api/stream/conversations/" + url.PathEscape(vehicleID), nil
	default:
		return "", fmt.Errorf("unknown stream %q (want admin, me, or conversation:VEHICLE)", stream)
	}
}

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	stream := fs.String("stream", "me", "admin, me, or conversation:VEHICLE")
	server := fs.String("server", "", "server base URL (default from config)")
	token := fs.String("token", os.Getenv("CARLOT_TOKEN"), "session token (default $CARLOT_TOKEN)")
	lastEventID := fs.String("last-event-id", "", "resume after this event id")
	delay := fs.Duration("retry-delay", client.DefaultReconnectDelay, "wait between reconnects")
	attempts := fs.Int("retries", client.DefaultMaxAttempts, "reconnects before giving up")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := streamPath(*stream)
	if err != nil {
		return err
	}
	if *token == "" {
		return errors.New("--token or CARLOT_TOKEN is required")
	}

	baseURL := strings.TrimSuffix(*server, "/")
	if baseURL == "" {
		cfg, err := config.Load(getConfigPath())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		baseURL = "http://" + cfg.Server.HTTPAddr
	}

	gray := color.New(color.FgHiBlack)
	done := make(chan error, 1)

	sub, err := client.NewSubscriber(client.Options{
		URL:         baseURL + path,
		Token:       *token,
		LastEventID: *lastEventID,
		Policy:      client.Policy{Delay: *delay, MaxAttempts: *attempts},
		Logger:      setupLogger(config.LoggingConfig{Level: "warn"}),
		OnEvent:     printFrame,
		OnStateChange: func(s client.State) {
			gray.Printf("%s  %s\n", time.Now().Format("15:04:05"), s)
		},
		OnError: func(err error) {
			if errors.Is(err, client.ErrReconnectExhausted) {
				select {
				case done <- err:
				default:
				}
				return
			}
			color.Yellow("stream error: %v", err)
		},
	})
	if err != nil {
		return err
	}

	if err := sub.Start(ctx); err != nil {
		return err
	}
	defer sub.Close()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}

// printFrame renders one stream frame on stdout.
func printFrame(f sse.Frame) {
	ts := time.Now().Format("15:04:05")
	switch f.Event {
	case sse.EventMessage:
		var env notify.Envelope
		if err := json.Unmarshal(f.Data, &env); err != nil {
			color.Red("%s  undecodable message: %s", ts, f.Data)
			return
		}
		fmt.Printf("%s  %s %s\n", ts, color.CyanString(string(env.Type)), env.Data)
	case sse.EventPing:
		color.HiBlack("%s  ping", ts)
	case sse.EventError:
		color.Red("%s  server error: %s", ts, f.Data)
	case sse.EventConnected:
		color.Green("%s  connected %s", ts, f.Data)
	default:
		fmt.Printf("%s  %s %s\n", ts, f.Event, f.Data)
	}
}
