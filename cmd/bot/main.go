package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"busbot/internal/app"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to the config file (yaml or json)")
		runOnce    = flag.String("run", "", "run the named schedule immediately and exit")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}

	if *runOnce != "" {
		if err := a.RunOnce(ctx, *runOnce); err != nil {
			fmt.Fprintln(os.Stderr, "run failed:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "run failed:", err)
		os.Exit(1)
	}
}
