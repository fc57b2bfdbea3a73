package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"trustcheck/internal/mgmt"
	"trustcheck/internal/runtime/cycle"
	"trustcheck/internal/trust"
)

var version = "dev"

func main() {
	cycles := flag.Int("cycles", 0, "The number of cycles through local trusts to test (0 runs forever)")
	delay := flag.Int("delay", 10, "The delay in seconds between cycles")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	client, err := mgmt.New()
	if err != nil {
		logger.Fatalf("FATAL: Failed to initialize management client: %v", err)
	}

	reporter := trust.NewLogReporter(logger)
	verifier := trust.NewVerifier(client, reporter)
	driver := cycle.New(verifier, reporter, cycle.Config{
		Cycles: *cycles,
		Delay:  time.Duration(*delay) * time.Second,
		Logger: logger,
	}, cycle.SystemdNotifier(logger))

	logger.Printf("INFO: trustcheck %s polling local trusts (cycles=%d, delay=%ds)", version, *cycles, *delay)
	sum, err := driver.Run(ctx)
	if err != nil {
		logger.Fatalf("FATAL: %v", err)
	}
	if sum.Interrupted {
		logger.Printf("INFO: trustcheck exiting")
	}
}
