package core

import "strings"

const RedactedValue = "[REDACTED]"

// secretPaths are the config leaves that never reach a log line.
var secretPaths = []string{
	"twilio.auth_token",
	"twilio.api_secret",
	"store.dsn",
}

// Redacted is the resolved config as a nested map with credentials masked,
// safe to log. Unset secrets stay empty so a missing token is still visible.
func (c Config) Redacted() map[string]any {
	layer := configToLayerMap(c, true)
	for _, path := range secretPaths {
		if value, ok := lookupPath(layer, path).(string); ok && value != "" {
			setPath(layer, path, RedactedValue)
		}
	}
	return layer
}

func lookupPath(layer map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = layer
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = node[part]
	}
	return current
}
