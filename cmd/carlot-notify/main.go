// ABOUTME: Entry point for carlot-notify, the marketplace notification server
// ABOUTME: Dispatches serve, init, token, health, ready, watch, and version subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/carlot-notify/internal/config"
	"github.com/2389/carlot-notify/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                _       _                 _   _  __
  ___ __ _ _ __| | ___ | |_   _ __   ___ | |_(_)/ _|_   _
 / __/ _' | '__| |/ _ \| __| | '_ \ / _ \| __| | |_| | | |
| (_| (_| | |  | | (_) | |_  | | | | (_) | |_| |  _| |_| |
 \___\__,_|_|  |_|\___/ \__| |_| |_|\___/ \__|_|_|  \__, |
                                                    |___/
`

// getConfigPath returns the path to the server config file.
// Priority: CARLOT_CONFIG env var > XDG_CONFIG_HOME/carlot/notify.yaml > ~/.config/carlot/notify.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CARLOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "notify.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "carlot", "notify.yaml")
}

// getDataPath returns the path to the carlot data directory.
// Priority: XDG_DATA_HOME/carlot > ~/.local/share/carlot
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "carlot")
}

func usage() {
	fmt.Println("Usage: carlot-notify <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the notification server")
	fmt.Println("  init                           Write a config file with a fresh JWT secret")
	fmt.Println("  token --user ID --role ROLE    Mint a session token")
	fmt.Println("  health                         Check server liveness")
	fmt.Println("  ready                          Check store and report live channels")
	fmt.Println("  watch --stream admin|me|conversation:VEHICLE")
	fmt.Println("                                 Follow a notification stream")
	fmt.Println("  version                        Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(args)
	case "token":
		err = runToken(args)
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	case "watch":
		err = runWatch(ctx, args)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Keep-alive: %s, poll every %s\n", cfg.Stream.KeepAlive, cfg.Stream.PollInterval)
	if cfg.Stream.MaxChannels > 0 {
		green.Print("    ▶ ")
		fmt.Printf("Channels:   at most %d\n", cfg.Stream.MaxChannels)
	}
	fmt.Println()

	logger.Info("starting carlot-notify",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runProbe requests a health endpoint on the configured server and prints the answer.
func runProbe(ctx context.Context, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	color.Green("%s", body)
	return nil
}
