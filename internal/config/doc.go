// ABOUTME: Package documentation for the config package
// ABOUTME: Describes the YAML configuration format and lookup rules

// Package config loads and validates client configuration.
//
// # Overview
//
// Configuration lives in a YAML file. Load reads a file from an
// explicit path; DefaultPath reports where the client looks when no
// path is given (the MARKETOLUH_CONFIG environment variable, then the
// XDG config directory). Default returns a configuration suitable for
// talking to a local backend with transcript history enabled.
//
// # Configuration File
//
// The file has four sections:
//
//	server:
//	  base_url: "http://localhost:8000"
//	  ws_url: ""            # derived from base_url when empty
//
//	auth:
//	  token_file: ""        # defaults to the XDG token path
//
//	history:
//	  enabled: true
//	  path: "~/.local/share/marketoluh/transcripts.db"
//
//	logging:
//	  level: "info"         # debug, info, warn, error
//	  format: "text"        # text or json
//
// # Environment Variable Expansion
//
// Values may reference environment variables with ${VAR} syntax. The
// reference is replaced with the variable's value before parsing;
// unset variables expand to the empty string.
package config
