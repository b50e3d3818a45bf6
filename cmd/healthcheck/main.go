// The healthcheck binary probes the worker's heartbeat file. It exits 0 while
// the recorded deadline plus the grace window has not passed, and 1 otherwise.
// Suitable as a container HEALTHCHECK or a systemd watchdog hook.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/liveness"
)

func main() {
	path := flag.String("path", envOrDefault("LIVENESS_PATH", "data/heartbeat"), "heartbeat file to probe")
	grace := flag.Duration("grace", 59*time.Second, "slack allowed past the recorded deadline")
	flag.Parse()

	if err := liveness.Check(*path, time.Now(), *grace); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
