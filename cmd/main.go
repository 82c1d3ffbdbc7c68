package main

import (
	"context"
	"log"

	"trade-engine/internal/app"
)

func main() {
	engine, err := app.NewApp()
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	// Init wires DB, NATS, the exchange gateway and the push gateway.
	ctx := context.Background()
	if err := engine.Init(ctx); err != nil {
		log.Fatalf("failed to initialize engine: %v", err)
	}

	if err := engine.Run(ctx); err != nil {
		log.Fatalf("engine stopped: %v", err)
	}
}
