package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/ai-json-generator/cmd/ai-json-generator/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := commands.NewApp()
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
