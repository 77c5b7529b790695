package util

import (
	"strings"
)

// WebsocketURL turns a "host" string into a websocket URL ending in path.
// Defaults to wss://, except for localhost. Converts http/https to ws/wss.
// A host which already carries a path keeps it, and path is ignored.
func WebsocketURL(host, path string) string {
	if host == "" {
		return ""
	}
	u := websocketBase(host)
	if path == "" || !strings.HasPrefix(u, "ws") {
		return u
	}
	rest := u[strings.Index(u, "://")+3:]
	if strings.Contains(rest, "/") {
		return u
	}
	return u + "/" + strings.TrimPrefix(path, "/")
}

func websocketBase(host string) string {
	if strings.HasPrefix(host, "wss://") || strings.HasPrefix(host, "ws://") {
		return host
	}
	if strings.HasPrefix(host, "https://") {
		return "wss://" + strings.TrimPrefix(host, "https://")
	}
	if strings.HasPrefix(host, "http://") {
		return "ws://" + strings.TrimPrefix(host, "http://")
	}
	if strings.Contains(host, "://") {
		// don't mess with unexpected methods
		return host
	}
	if strings.HasPrefix(host, "127.0.0.") || strings.HasPrefix(host, "[::1]") {
		return "ws://" + host
	}
	hostname := strings.SplitN(host, ":", 2)[0]
	if hostname == "localhost" {
		return "ws://" + host
	}
	return "wss://" + host
}
