package main

import (
	"log"

	"github.com/foker/tgflats-sub000/internal/app"
	"github.com/foker/tgflats-sub000/internal/app/config"
)

func main() {
	cfg := config.MustLoad()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	application.Run()
}
