package sensors

import "errors"

// Domain errors for the sensors package.
var (
	// ErrNoDevice is returned when no DS18B20 sensor is present on the 1-Wire bus.
	ErrNoDevice = errors.New("sensors: no device found")

	// ErrCRC is returned when the DS18B20 CRC check keeps failing.
	ErrCRC = errors.New("sensors: crc check failed")

	// ErrBadFormat is returned when sensor output cannot be parsed.
	ErrBadFormat = errors.New("sensors: unexpected data format")

	// ErrInvalidChannel is returned for ADC channels outside 0-3.
	ErrInvalidChannel = errors.New("sensors: invalid adc channel")

	// ErrConversionTimeout is returned when the ADC never reports a finished conversion.
	ErrConversionTimeout = errors.New("sensors: adc conversion timeout")

	// ErrCalibration is returned when calibration yields an unusable value.
	ErrCalibration = errors.New("sensors: invalid calibration")

	// ErrInvalidTemperature is returned when a compensation temperature is NaN or infinite.
	ErrInvalidTemperature = errors.New("sensors: invalid compensation temperature")

	// ErrUnsupported is returned on platforms without Linux I2C.
	ErrUnsupported = errors.New("sensors: i2c not supported on this platform")
)
