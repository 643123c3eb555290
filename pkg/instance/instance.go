package instance

import (
	"os"

	"github.com/angelmondragon/chataccess/pkg/env"
)

// ID names the running process in logs: a platform-assigned name first,
// then an explicit WORKER_ID, then the hostname.
func ID(fallback string) string {
	if id := env.First("DYNO", "K_REVISION", "WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}
