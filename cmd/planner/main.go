// Package main starts the planner service process lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	plannercmd "github.com/planward/planward/internal/cmd/planner"
	"github.com/planward/planward/internal/platform/config"
)

func main() {
	cfg, err := plannercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[PLANNER] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := plannercmd.Run(ctx, cfg); err != nil {
		config.Exitf("failed to run: %v", err)
	}
}
