package sensors

import (
	"github.com/greenscale/greenscale-edge/internal/infrastructure/config"
	"github.com/greenscale/greenscale-edge/internal/telemetry"
)

// Hardware holds the shared device handles producers read from. It outlives
// configuration reloads; only calibration is rebuilt.
type Hardware struct {
	ADC         VoltageSource
	Temperature *CycleTemperature
}

// NewHardware creates lazily opened handles for the bus and 1-Wire glob in cfg.
// Nothing is touched until the first read.
func NewHardware(cfg config.SensorsConfig) *Hardware {
	return &Hardware{
		ADC:         NewADS1115(cfg.I2CBus, cfg.ADCAddress),
		Temperature: NewCycleTemperature(NewTemperature(cfg.OneWireGlob)),
	}
}

// Close releases the ADC if it is closable.
func (h *Hardware) Close() error {
	if c, ok := h.ADC.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Build returns the enabled producers in payload order:
// temperature, ph, do, turbidity, ammonia, co2.
func Build(cfg config.SensorsConfig, hw *Hardware) []telemetry.Producer {
	var producers []telemetry.Producer

	if cfg.Temperature.Enabled {
		producers = append(producers, hw.Temperature)
	}
	if cfg.PH.Enabled {
		producers = append(producers, NewPH(hw.ADC, cfg.PH))
	}
	if cfg.DissolvedOxygen.Enabled {
		producers = append(producers, NewDissolvedOxygen(hw.ADC, hw.Temperature, cfg.DissolvedOxygen))
	}
	if cfg.Turbidity.Enabled {
		producers = append(producers, NewTurbidity(hw.ADC, cfg.Turbidity))
	}
	if cfg.Ammonia.Enabled {
		producers = append(producers, NewStatic(telemetry.SensorAmmonia, unitPPM, cfg.Ammonia.Value))
	}
	if cfg.CO2.Enabled {
		producers = append(producers, NewStatic(telemetry.SensorCO2, unitPPM, cfg.CO2.Value))
	}

	return producers
}
