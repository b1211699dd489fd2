// Package common provides shared types and constants used across the
// warpmaster coordinator, its control plane and the CLI.
package common

// Environment variable names for configuration.
const (
	// ConfigPathEnv overrides the configuration file location.
	ConfigPathEnv = "WARPMASTER_CONFIG"

	// RPCSecretEnv overrides the control plane bearer token.
	RPCSecretEnv = "WARPMASTER_RPC_SECRET"

	// ListenEnv overrides the control plane listen address.
	ListenEnv = "WARPMASTER_LISTEN"

	// DebugEnv is the environment variable to enable debug logging.
	DebugEnv = "WARPMASTER_DEBUG"
)
