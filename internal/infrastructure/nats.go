package infrastructure

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Engine event subjects published on the ENGINE stream:
//
//	engine.candle.<period>.<symbol>
//	engine.signal.<symbol>
//	engine.position.<symbol>
//	engine.trade.<symbol>
func InitNATS(url string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, nil, err
	}

	cfg := &nats.StreamConfig{
		Name:     "ENGINE",
		Subjects: []string{"engine.candle.*.*", "engine.signal.*", "engine.position.*", "engine.trade.*"},
	}
	_, err = js.AddStream(cfg)
	if err != nil {
		// If stream exists, we might need to update it
		_, err = js.UpdateStream(cfg)
		if err != nil {
			logger.Warn("failed to create or update stream", zap.Error(err))
		}
	}

	return nc, js, nil
}
