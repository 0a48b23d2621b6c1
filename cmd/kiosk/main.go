package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/kioskeeper/internal/kiosk"
	"github.com/dmitrijs2005/kioskeeper/internal/kiosk/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := kiosk.NewApp(cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
