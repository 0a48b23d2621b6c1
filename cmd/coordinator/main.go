package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/kioskeeper/internal/coordinator"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := coordinator.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
