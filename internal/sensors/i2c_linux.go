//go:build linux

package sensors

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// i2cSlave is the I2C_SLAVE ioctl from linux/i2c-dev.h.
const i2cSlave = 0x0703

type i2cDevice struct {
	fd int
}

func openI2C(path string, addr int) (i2cBus, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := unix.IoctlSetInt(fd, i2cSlave, addr); err != nil {
		unix.Close(fd) //nolint:errcheck
		return nil, fmt.Errorf("set slave address 0x%02x: %w", addr, err)
	}
	return &i2cDevice{fd: fd}, nil
}

func (d *i2cDevice) Read(p []byte) (int, error) {
	return unix.Read(d.fd, p)
}

func (d *i2cDevice) Write(p []byte) (int, error) {
	return unix.Write(d.fd, p)
}

func (d *i2cDevice) Close() error {
	return unix.Close(d.fd)
}
