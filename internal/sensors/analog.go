package sensors

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/greenscale/greenscale-edge/internal/infrastructure/config"
	"github.com/greenscale/greenscale-edge/internal/telemetry"
)

// Units reported by the analog producers.
const (
	unitPH   = "pH"
	unitMgL  = "mg/L"
	unitNTU  = "NTU"
	unitPPM  = "ppm"
	maxPH    = 14.0
	maxDOMgL = 20.0
)

// PH converts the SEN0169 sensor voltage with a linear fit.
type PH struct {
	adc VoltageSource
	cfg config.PHConfig
	now func() time.Time
}

// NewPH creates a pH producer.
func NewPH(adc VoltageSource, cfg config.PHConfig) *PH {
	return &PH{adc: adc, cfg: cfg, now: time.Now}
}

// Name implements telemetry.Producer.
func (p *PH) Name() string { return telemetry.SensorPH }

// Read implements telemetry.Producer.
func (p *PH) Read(ctx context.Context) (telemetry.Reading, error) {
	mv, err := p.adc.Millivolts(ctx, p.cfg.Channel)
	if err != nil {
		return telemetry.Reading{Unit: unitPH}, err
	}
	ph := VoltageToPH(mv/1000, p.cfg.Slope, p.cfg.Intercept)
	return telemetry.NewReading(telemetry.SensorPH, round2(ph), unitPH, p.now()), nil
}

// VoltageToPH applies pH = slope*V + intercept, clamped to [0, 14].
func VoltageToPH(volts, slope, intercept float64) float64 {
	return clamp(slope*volts+intercept, 0, maxPH)
}

// Turbidity converts the SEN0189 output with the DFRobot quadratic.
type Turbidity struct {
	adc VoltageSource
	cfg config.TurbidityConfig
	now func() time.Time
}

// NewTurbidity creates a turbidity producer.
func NewTurbidity(adc VoltageSource, cfg config.TurbidityConfig) *Turbidity {
	return &Turbidity{adc: adc, cfg: cfg, now: time.Now}
}

// Name implements telemetry.Producer.
func (t *Turbidity) Name() string { return telemetry.SensorTurbidity }

// Read implements telemetry.Producer.
func (t *Turbidity) Read(ctx context.Context) (telemetry.Reading, error) {
	mv, err := t.adc.Millivolts(ctx, t.cfg.Channel)
	if err != nil {
		return telemetry.Reading{Unit: unitNTU}, err
	}
	ntu := VoltageToNTU(mv/1000, t.cfg)
	return telemetry.NewReading(telemetry.SensorTurbidity, round2(ntu), unitNTU, t.now()), nil
}

// VoltageToNTU scales the measured voltage to the 5 V curve, then returns
// the saturation value at or below the threshold and a*V^2 + b*V + c above it.
func VoltageToNTU(volts float64, cfg config.TurbidityConfig) float64 {
	scale := cfg.SupplyScale
	if scale == 0 {
		scale = 1
	}
	v := volts * scale
	if v <= cfg.Threshold {
		return cfg.Saturation
	}
	return math.Max(0, cfg.A*v*v+cfg.B*v+cfg.C)
}

// doSaturationTable is the DFRobot SEN0237 saturation DO in µg/L, indexed by °C 0-40.
var doSaturationTable = [...]float64{
	14460, 14220, 13820, 13440, 13090, 12740, 12420, 12110, 11810, 11530,
	11260, 11010, 10770, 10530, 10300, 10080, 9860, 9660, 9460, 9270,
	9080, 8900, 8730, 8570, 8410, 8250, 8110, 7960, 7820, 7690,
	7560, 7430, 7300, 7180, 7070, 6950, 6840, 6730, 6630, 6530,
	6410,
}

// singlePointSlopeMV is the sensor's saturation voltage change per °C.
const singlePointSlopeMV = 35.0

// DissolvedOxygen converts the SEN0237 galvanic sensor voltage using a
// temperature-compensated saturation voltage.
type DissolvedOxygen struct {
	adc  VoltageSource
	temp TemperatureSource
	cfg  config.DissolvedOxygenConfig
	now  func() time.Time
}

// NewDissolvedOxygen creates a DO producer. temp is read when no
// temperature is supplied; it is usually the shared CycleTemperature.
func NewDissolvedOxygen(adc VoltageSource, temp TemperatureSource, cfg config.DissolvedOxygenConfig) *DissolvedOxygen {
	return &DissolvedOxygen{adc: adc, temp: temp, cfg: cfg, now: time.Now}
}

// Name implements telemetry.Producer.
func (d *DissolvedOxygen) Name() string { return telemetry.SensorDissolvedOxygen }

// Read implements telemetry.Producer.
func (d *DissolvedOxygen) Read(ctx context.Context) (telemetry.Reading, error) {
	if d.temp == nil {
		return telemetry.Reading{Unit: unitMgL}, fmt.Errorf("%w: no temperature source", ErrCalibration)
	}
	tempC, err := d.temp.Celsius(ctx)
	if err != nil {
		return telemetry.Reading{Unit: unitMgL}, fmt.Errorf("temperature compensation: %w", err)
	}
	return d.ReadAt(ctx, tempC)
}

// ReadAt reads DO using a temperature the caller already has.
func (d *DissolvedOxygen) ReadAt(ctx context.Context, tempC float64) (telemetry.Reading, error) {
	mv, err := d.adc.Millivolts(ctx, d.cfg.Channel)
	if err != nil {
		return telemetry.Reading{Unit: unitMgL}, err
	}
	do, err := DissolvedOxygenMgL(mv, tempC, d.cfg)
	if err != nil {
		return telemetry.Reading{Unit: unitMgL}, err
	}
	return telemetry.NewReading(telemetry.SensorDissolvedOxygen, round2(do), unitMgL, d.now()), nil
}

// SaturationMillivolts returns the sensor voltage in air-saturated water at tempC.
//
// two_point: V = (T - T2)(V1 - V2)/(T1 - T2) + V2
// single_point: V = V1 + 35(T - T1)
func SaturationMillivolts(tempC float64, cfg config.DissolvedOxygenConfig) (float64, error) {
	switch cfg.Mode {
	case config.DOModeSinglePoint:
		return cfg.Cal1MV + singlePointSlopeMV*(tempC-cfg.Cal1Temp), nil
	case config.DOModeTwoPoint, "":
		denom := cfg.Cal1Temp - cfg.Cal2Temp
		if denom == 0 {
			return 0, fmt.Errorf("%w: calibration temperatures are equal", ErrCalibration)
		}
		return (tempC-cfg.Cal2Temp)*(cfg.Cal1MV-cfg.Cal2MV)/denom + cfg.Cal2MV, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrCalibration, cfg.Mode)
	}
}

// DissolvedOxygenMgL converts a sensor voltage at tempC to mg/L, clamped to [0, 20].
func DissolvedOxygenMgL(mv, tempC float64, cfg config.DissolvedOxygenConfig) (float64, error) {
	if math.IsNaN(tempC) || math.IsInf(tempC, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTemperature, tempC)
	}
	vSat, err := SaturationMillivolts(tempC, cfg)
	if err != nil {
		return 0, err
	}
	if vSat <= 0 {
		return 0, fmt.Errorf("%w: saturation voltage %.1f mV", ErrCalibration, vSat)
	}
	idx := int(clamp(math.Round(tempC), 0, float64(len(doSaturationTable)-1)))
	ugL := mv * doSaturationTable[idx] / vSat
	return clamp(ugL/1000, 0, maxDOMgL), nil
}

// Static reports a fixed value. Used for ammonia and CO2 until their sensors are fitted.
type Static struct {
	name  string
	unit  string
	value float64
	now   func() time.Time
}

// NewStatic creates a fixed-value producer.
func NewStatic(name, unit string, value float64) *Static {
	return &Static{name: name, unit: unit, value: value, now: time.Now}
}

// Name implements telemetry.Producer.
func (s *Static) Name() string { return s.name }

// Read implements telemetry.Producer.
func (s *Static) Read(context.Context) (telemetry.Reading, error) {
	return telemetry.NewReading(s.name, s.value, s.unit, s.now()), nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
