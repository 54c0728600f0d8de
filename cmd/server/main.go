package main

import (
	"go.uber.org/zap"

	"github.com/livechess-gg/livechess/internal/app/server"
	"github.com/livechess-gg/livechess/pkg/logging"
)

func main() {
	logging.Fatal("Game server exited: ", zap.Error(
		server.NewServer().Start(),
	))
}
