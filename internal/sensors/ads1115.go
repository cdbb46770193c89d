package sensors

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/greenscale/greenscale-edge/internal/infrastructure/retry"
)

// ADS1115 registers and config bits (datasheet section 8.6).
const (
	regConversion = 0x00
	regConfig     = 0x01

	cfgStartSingle = 0x8000 // OS: begin a single conversion / conversion done
	cfgMuxSingle0  = 0x4000 // MUX: AINx vs GND, channel in bits 12-13
	cfgPGA6144     = 0x0000 // ±6.144 V
	cfgModeSingle  = 0x0100
	cfgRate128     = 0x0080
	cfgCompDisable = 0x0003

	// fullScaleMV is the PGA range mapped onto the signed 16-bit result.
	fullScaleMV = 6144.0

	conversionPolls    = 10
	conversionInterval = 2 * time.Millisecond

	adcChannels = 4
)

// VoltageSource returns the voltage on an ADC channel in millivolts.
type VoltageSource interface {
	Millivolts(ctx context.Context, channel int) (float64, error)
}

// i2cBus is an I2C character device bound to one slave address.
type i2cBus interface {
	io.ReadWriteCloser
}

// ADS1115 is a 4-channel 16-bit ADC on Linux I2C, used in single-shot mode
// at the ±6.144 V gain.
//
// The bus is opened on first use and reopened after an I/O error, so a node
// that boots without the HAT attached recovers once it appears.
//
// Thread Safety: conversions are serialised.
type ADS1115 struct {
	path string
	addr int
	open func(path string, addr int) (i2cBus, error)
	wait func(context.Context, time.Duration) error

	mu  sync.Mutex
	bus i2cBus
}

// NewADS1115 creates an ADC on bus (e.g. /dev/i2c-1) at addr (e.g. 0x48).
func NewADS1115(path string, addr int) *ADS1115 {
	return &ADS1115{
		path: path,
		addr: addr,
		open: openI2C,
		wait: retry.Sleep,
	}
}

// Millivolts performs a single-shot conversion on channel 0-3.
func (a *ADS1115) Millivolts(ctx context.Context, channel int) (float64, error) {
	if channel < 0 || channel >= adcChannels {
		return 0, fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bus == nil {
		bus, err := a.open(a.path, a.addr)
		if err != nil {
			return 0, fmt.Errorf("opening adc %s@0x%02x: %w", a.path, a.addr, err)
		}
		a.bus = bus
	}

	mv, err := a.convert(ctx, channel)
	if err != nil {
		a.bus.Close() //nolint:errcheck // reopened on next read
		a.bus = nil
		return 0, fmt.Errorf("adc channel %d: %w", channel, err)
	}
	return mv, nil
}

// Close releases the bus.
func (a *ADS1115) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bus == nil {
		return nil
	}
	err := a.bus.Close()
	a.bus = nil
	return err
}

func (a *ADS1115) convert(ctx context.Context, channel int) (float64, error) {
	if err := a.writeRegister(regConfig, configWord(channel)); err != nil {
		return 0, err
	}

	done := false
	for i := 0; i < conversionPolls; i++ {
		cfg, err := a.readRegister(regConfig)
		if err != nil {
			return 0, err
		}
		if cfg&cfgStartSingle != 0 {
			done = true
			break
		}
		if err := a.wait(ctx, conversionInterval); err != nil {
			return 0, err
		}
	}
	if !done {
		return 0, ErrConversionTimeout
	}

	raw, err := a.readRegister(regConversion)
	if err != nil {
		return 0, err
	}
	return rawToMillivolts(raw), nil
}

func (a *ADS1115) writeRegister(reg byte, value uint16) error {
	buf := []byte{reg, 0, 0}
	binary.BigEndian.PutUint16(buf[1:], value)
	_, err := a.bus.Write(buf)
	return err
}

func (a *ADS1115) readRegister(reg byte) (uint16, error) {
	if _, err := a.bus.Write([]byte{reg}); err != nil {
		return 0, err
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(a.bus, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// configWord returns the config register value that starts a single-shot
// conversion of channel against ground.
func configWord(channel int) uint16 {
	return cfgStartSingle | cfgMuxSingle0 | uint16(channel)<<12 |
		cfgPGA6144 | cfgModeSingle | cfgRate128 | cfgCompDisable
}

func rawToMillivolts(raw uint16) float64 {
	return float64(int16(raw)) * fullScaleMV / 32768
}
