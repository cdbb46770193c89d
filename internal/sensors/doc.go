// Package sensors provides the Reading Producers for the Greenscale edge node.
//
// Hardware:
//
//	DS18B20 ──(1-Wire sysfs)──────────────▶ Temperature
//	ADS1115 ──(I2C, 0x48, gain ±6.144 V)──▶ A0 Turbidity, A1 pH, A2 DO
//
// Every calibration coefficient comes from config.SensorsConfig, so a
// reload can recalibrate without a restart. Build assembles the enabled
// producers in payload order.
//
// Temperature is read at most once per cycle: the temperature producer and
// the dissolved-oxygen producer share a CycleTemperature, which caches the
// first reading made under a given cycle number.
package sensors
