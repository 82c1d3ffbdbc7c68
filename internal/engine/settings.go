package engine

import (
	"time"

	"trade-engine/internal/config"
	"trade-engine/internal/detector"
	"trade-engine/internal/position"

	"github.com/shopspring/decimal"
)

// FromSettings maps the flat runtime settings onto an engine Config for one
// symbol. Both the live workers and the backtest API go through this, so a
// backtest exercises exactly the configuration the live engine runs.
func FromSettings(symbol string, ec config.EngineConfig, equity decimal.Decimal) Config {
	return Config{
		Symbol:           symbol,
		BasePeriod:       ec.BasePeriod,
		StructuralPeriod: ec.StructuralPeriod,
		FilterPeriod:     ec.FilterPeriod,
		SwingLookback:    ec.SwingLookback,
		OBRetention:      ec.OBRetention,
		Detector: detector.Config{
			RSIPeriod:   ec.RSIPeriod,
			RSILongMax:  ec.RSILongMax,
			RSIShortMin: ec.RSIShortMin,
			ATRPeriod:   ec.ATRPeriod,
			EMAFast:     ec.EMAFast,
			EMASlow:     ec.EMASlow,
			StopATRMult: ec.StopATRMult,
			RewardRisk:  ec.RewardRisk,
			Validity:    time.Duration(ec.ValidityHours) * time.Hour,
		},
		Position: position.Config{
			Equity:       equity,
			RiskPerTrade: decimal.NewFromFloat(ec.RiskPerTrade),
			TrailStartR:  ec.TrailStartR,
			TrailDistR:   ec.TrailDistR,
		},
		ConfigHash: ec.Hash(),
	}
}
