package infrastructure

import (
	"go.uber.org/zap"
)

var (
	Logger *zap.Logger
)

func Init() {
	Logger, _ = zap.NewProduction(zap.Fields(zap.String("service", "trade-engine")))
	Logger.Info("infrastructure initialized")
}
