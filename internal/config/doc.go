// Package config handles configuration loading for carlot-notify.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by the .toml
// extension) with environment variable expansion, defaults, and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CARLOT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/carlot/notify.yaml
//  3. ~/.config/carlot/notify.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CARLOT_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	stream:
//	  keep_alive: "30s"
//	  inactivity_threshold: "60s"
//	  poll_interval: "5s"
//	  write_timeout: "10s"
//	  dispatch_timeout: "2s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8090"
//	  shutdown_timeout: "5s"
//
//	database:
//	  path: "/var/lib/carlot/notify.db"
//	  driver: "sqlite"          # or "sqlite3" (cgo)
//
//	stream:
//	  poll_batch_limit: 100
//	  max_channels: 0           # 0 = unlimited
//
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text or json
package config
