package smc

import (
	"fmt"

	"github.com/ardnew/softmbox/pkg"
)

// GPIOCount is the number of SMC-controlled pins.
const GPIOCount = 32

const hexDigits = "0123456789abcdef"

// GPIOKey returns the key controlling pin: "gP" followed by the pin number
// as two lowercase hex digits.
func GPIOKey(pin int) Key {
	return Key('g')<<24 | Key('P')<<16 |
		Key(hexDigits[(pin>>4)&0xf])<<8 | Key(hexDigits[pin&0xf])
}

// GPIO drives output pins owned by the SMC.
//
// Each pin needs a mask, OR'ed into the value written to its key, which the
// board describes and the SMC interprets. Reading pins and input direction
// are not supported by the firmware.
type GPIO struct {
	c     *Client
	masks map[int]uint32
}

// NewGPIO returns a pin controller. masks maps pin number to its mask.
func NewGPIO(c *Client, masks map[int]uint32) *GPIO {
	return &GPIO{c: c, masks: masks}
}

// Set drives pin high or low.
func (g *GPIO) Set(pin int, high bool) error {
	if pin < 0 || pin >= GPIOCount {
		return fmt.Errorf("%w: gpio %d", pkg.ErrOutOfRange, pin)
	}
	mask, ok := g.masks[pin]
	if !ok {
		return fmt.Errorf("%w: no mask for gpio %d", pkg.ErrInvalidParameter, pin)
	}

	data := mask
	if high {
		data |= 1
	}
	key := GPIOKey(pin)
	pkg.LogDebug(pkg.ComponentSMC, "gpio set", "pin", pin, "key", key, "data", fmt.Sprintf("0x%08x", data))
	return g.c.WriteKey(key, []byte{byte(data), byte(data >> 8), byte(data >> 16), byte(data >> 24)})
}

// DirectionOutput makes pin an output driven to value.
func (g *GPIO) DirectionOutput(pin int, high bool) error {
	return g.Set(pin, high)
}

// Get is not supported.
func (g *GPIO) Get(pin int) (bool, error) {
	return false, fmt.Errorf("%w: read gpio %d", pkg.ErrNotSupported, pin)
}

// DirectionInput is not supported.
func (g *GPIO) DirectionInput(pin int) error {
	return fmt.Errorf("%w: input direction for gpio %d", pkg.ErrNotSupported, pin)
}

// Direction is not supported.
func (g *GPIO) Direction(pin int) (output bool, err error) {
	return false, fmt.Errorf("%w: direction of gpio %d", pkg.ErrNotSupported, pin)
}
