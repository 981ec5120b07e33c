// Package config handles configuration loading for the parley host.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. Every section has a working default; values absent from the
// file keep their defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	timeouts:
//	  connection_timeout: "90s"
//	  heartbeat_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  name: "parley-host"
//	  http_addr: ":8080"
//	  allowed_origins: ["*"]
//
// Capacity limits:
//
//	limits:
//	  max_connections: 100
//	  max_message_size: 1048576
//	  max_history_size: 1000
//
// Protocol timing:
//
//	timeouts:
//	  connection_timeout: "90s"
//	  heartbeat_interval: "30s"
//	  cleanup_interval: "150s"
//	  message_timeout: "30s"
//	  receive_timeout: "60s"
//
// Authentication (mode is one of none, token, secret):
//
//	auth:
//	  mode: "token"
//	  jwt_secret: "${PARLEY_JWT_SECRET}"
//
// Rate limiting:
//
//	rate_limiting:
//	  enabled: true
//	  max_requests_per_minute: 60
//	  max_requests_per_hour: 1000
//
// Request pipeline:
//
//	pipeline:
//	  max_concurrent: 8
//	  dedupe_ttl: "30s"
//	  dedupe_size: 1024
//	  redis_url: ""
//
// Persistence, logging, and metrics:
//
//	store:
//	  path: "./parley.db"
//	logging:
//	  level: "info"
//	  format: "text"
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
