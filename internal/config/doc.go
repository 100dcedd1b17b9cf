// Package config loads the JSON configuration consumed by the agentpayd
// daemon and applies sensible defaults for omitted sections.
package config
