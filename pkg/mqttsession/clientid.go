package mqttsession

import (
	"fmt"
	"os"
	"time"
)

// GenerateClientID builds the publisher client identity, grounded in the
// original's publisher_client_id(): "<prefix>-pub-<hostname>-<pid>-<unix_ts>".
// One session serves both publish and subscribe, so no separate
// subscriber-side identity is generated.
func GenerateClientID(prefix string) string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-pub-%s-%d-%d", prefix, hostname, os.Getpid(), time.Now().Unix())
}
