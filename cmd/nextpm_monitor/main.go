// Prints the live feed of a running NextPM API.
// Depends on the NextPM API being online.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/nextpm_monitor/pkg/config"
	"github.com/NotCoffee418/nextpm_monitor/pkg/livefeed"
	"github.com/NotCoffee418/nextpm_monitor/pkg/logging"
)

func main() {
	log := logging.NewLogger(config.LogConfig{
		Level:  os.Getenv("NEXTPM_LOG_LEVEL"),
		Format: "text",
	})

	// Set the host:port from env var NEXTPM_API_HOST
	host := os.Getenv("NEXTPM_API_HOST")
	if host == "" {
		host = "raspberrypi.local:9040"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Subscribe to websocket with revive
	livefeed.StartListener(ctx, host, handleMessage, log)
}

func handleMessage(msg *livefeed.Message) {
	fmt.Println(string(msg.ToJsonBytes()))
}
