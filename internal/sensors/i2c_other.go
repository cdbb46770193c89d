//go:build !linux

package sensors

func openI2C(string, int) (i2cBus, error) {
	return nil, ErrUnsupported
}
