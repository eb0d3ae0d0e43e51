// Package config loads the configuration of the command-line tools.
//
// A configuration file describes the server, the connection policy, the
// logging setup and the subscriptions to open. Three formats are read,
// selected by extension:
//
//   - .yaml, .yml: YAML
//   - .toml: TOML
//   - .json, .jsonc: JSON, with comments and trailing commas allowed
//
// After the file, variables from an optional .env file and then from the
// process environment override single settings:
//
//	LS_SERVER_ADDRESS, LS_ADAPTER_SET, LS_USER, LS_PASSWORD,
//	LS_FORCED_TRANSPORT, LS_LOG_LEVEL, LS_CAPTURE_FILE
//
// Durations are written as Go duration strings ("1.5s", "200ms").
package config
