// Poll a channel for orders and run them.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/ewasser/orderd/config"
	"github.com/ewasser/orderd/worker"
)

func main() {
	channel := os.Getenv("ORDER_CHANNEL")
	if channel == "" {
		log.Fatal("No value provided for ORDER_CHANNEL, cannot poll")
	}

	name := os.Getenv("WORKER_NAME")
	if name == "" {
		if host, err := os.Hostname(); err == nil {
			name = host
		} else {
			name = "worker"
		}
	}

	concurrency, err := config.GetInt("WORKER_CONCURRENCY")
	if err != nil {
		log.Printf("Error getting worker concurrency: %s. Defaulting to 4", err)
		concurrency = 4
	}

	// Every poller hits the same scheduler host.
	httpConns, err := config.GetInt("HTTP_MAX_IDLE_CONNS")
	if err == nil {
		config.SetMaxIdleConnsPerHost(httpConns)
	} else {
		config.SetMaxIdleConnsPerHost(100)
	}

	metrics.Namespace = "orderd.worker"
	metrics.Start("worker")

	parsedUrl := config.GetURLOrBail("SCHEDULER_URL")
	c := worker.NewClient("", "", parsedUrl.String())

	pool, err := worker.CreatePool(c, channel, name, concurrency, &worker.CommandExecutor{})
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Polling channel %q with %d pollers as %q\n", channel, concurrency, name)

	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigterm
	fmt.Printf("Caught signal %v, shutting down...\n", sig)
	if err := pool.Shutdown(); err != nil {
		log.Printf("Error shutting down pool: %s\n", err.Error())
	}
	fmt.Println("Pool shut down. Quitting.")
}
