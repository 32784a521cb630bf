// ABOUTME: token and init subcommands for provisioning secrets and session tokens
// ABOUTME: Mints HS256 session tokens with the configured jwt_secret

package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/2389/carlot-notify/internal/auth"
	"github.com/2389/carlot-notify/internal/config"
)

// runToken prints a signed session token for a user and role.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id placed in the sub claim")
	role := fs.String("role", string(auth.RoleUser), "session role (admin, user, service)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		return errors.New("--user is required")
	}
	r := auth.Role(*role)
	if !r.Valid() {
		return fmt.Errorf("unknown role %q", *role)
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(auth.Session{UserID: *userID, Role: r}, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// runInit writes a starter config file with a random JWT secret.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite an existing config file")
	addr := fs.String("http-addr", "127.0.0.1:8090", "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil && !*force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "notify.db")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# carlot-notify configuration
# Generated by carlot-notify init

server:
  http_addr: "%s"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

stream:
  keep_alive: "30s"
  inactivity_threshold: "60s"
  poll_interval: "5s"

logging:
  level: "info"
  format: "text"
`, *addr, dbPath, jwtSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	green.Printf("  ✓ Database will live at: %s\n", dbPath)
	fmt.Println()
	fmt.Println("  Next:")
	fmt.Println("    carlot-notify serve")
	fmt.Println("    carlot-notify token --user admin-1 --role admin")
	return nil
}
