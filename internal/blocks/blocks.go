// Package blocks maps the Ara block opcodes of a visual programming host
// onto a session manager. Each command block is a single Send; each
// reporter and hat block is a comparison against the cached state.
package blocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/chaz8081/ara-light/internal/codec"
)

// Proxy is the part of the session manager the blocks need.
type Proxy interface {
	Send(ch codec.Channel, v codec.Value) error
	TrySend(ch codec.Channel, v codec.Value) (bool, error)
	Query(ch codec.Channel) (codec.Value, bool)
	Busy() bool
}

// Block opcodes.
const (
	OpFlipSwitch                  = "flipSwitch"
	OpSetLightBrightness          = "setLightBrightness"
	OpSetColorTemperature         = "setColorTemperature"
	OpFlashLights                 = "flashLights"
	OpLightState                  = "lightState"
	OpBrightnessState             = "brightnessState"
	OpTemperatureState            = "temperatureState"
	OpWhenSwitchFlipped           = "whenSwitchFlipped"
	OpWhenBrightnessChanged       = "whenBrightnessChanged"
	OpWhenColorTemperatureChanged = "whenColorTemperatureChanged"
)

// ErrUnknownOpcode is returned by Invoke for an opcode it does not handle.
var ErrUnknownOpcode = errors.New("blocks: unknown opcode")

// DefaultFlashInterval is the pause between switch writes of a flash
// sequence when none is configured.
const DefaultFlashInterval = 400 * time.Millisecond

// Blocks executes block opcodes against one light.
type Blocks struct {
	proxy         Proxy
	table         *codec.Table
	flashInterval time.Duration
	logger        *slog.Logger
	handlers      map[string]handler
}

type handler func(ctx context.Context, arg string) (bool, error)

// New creates Blocks driving proxy. Values are parsed against table.
// Panics if proxy or table is nil (programmer error).
func New(proxy Proxy, table *codec.Table, flashInterval time.Duration, logger *slog.Logger) *Blocks {
	if proxy == nil {
		panic("blocks: New called with nil proxy")
	}
	if table == nil {
		panic("blocks: New called with nil table")
	}
	if flashInterval <= 0 {
		flashInterval = DefaultFlashInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Blocks{
		proxy:         proxy,
		table:         table,
		flashInterval: flashInterval,
		logger:        logger,
	}
	b.handlers = map[string]handler{
		OpFlipSwitch:                  b.command(codec.Switch),
		OpSetLightBrightness:          b.command(codec.Brightness),
		OpSetColorTemperature:         b.command(codec.Temperature),
		OpFlashLights:                 b.flash,
		OpLightState:                  b.predicate(codec.Switch),
		OpBrightnessState:             b.predicate(codec.Brightness),
		OpTemperatureState:            b.predicate(codec.Temperature),
		OpWhenSwitchFlipped:           b.predicate(codec.Switch),
		OpWhenBrightnessChanged:       b.predicate(codec.Brightness),
		OpWhenColorTemperatureChanged: b.predicate(codec.Temperature),
	}
	return b
}

// Opcodes returns every opcode Invoke accepts, sorted.
func (b *Blocks) Opcodes() []string {
	ops := make([]string, 0, len(b.handlers))
	for op := range b.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// IsCommand reports whether opcode drives the light rather than reading
// the cached state.
func IsCommand(opcode string) bool {
	switch opcode {
	case OpFlipSwitch, OpSetLightBrightness, OpSetColorTemperature, OpFlashLights:
		return true
	}
	return false
}

// Invoke runs opcode with its menu argument. Command blocks return false;
// reporter and hat blocks return whether the cached state equals arg.
func (b *Blocks) Invoke(ctx context.Context, opcode, arg string) (bool, error) {
	h, ok := b.handlers[opcode]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownOpcode, opcode)
	}
	return h(ctx, arg)
}

// FlipSwitch turns the light on or off.
func (b *Blocks) FlipSwitch(v codec.Value) error {
	return b.proxy.Send(codec.Switch, v)
}

// SetLightBrightness drives the brightness to v.
func (b *Blocks) SetLightBrightness(v codec.Value) error {
	return b.proxy.Send(codec.Brightness, v)
}

// SetColorTemperature drives the color temperature to v.
func (b *Blocks) SetColorTemperature(v codec.Value) error {
	return b.proxy.Send(codec.Temperature, v)
}

// FlashLights switches the light off and back on n times. Writes are spaced
// by the flash interval and wait for the previous write to be acknowledged.
// A step that loses the busy gate to a concurrent write is retried at the
// next interval, so every step reaches the light unless there is no
// session. It returns early with the context's error if ctx ends.
func (b *Blocks) FlashLights(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("blocks: flash count must be positive, got %d", n)
	}
	limiter := rate.NewLimiter(rate.Every(b.flashInterval), 1)
	for i := 0; i < n; i++ {
		for _, v := range []codec.Value{codec.Off, codec.On} {
			if err := b.step(ctx, limiter, v); err != nil {
				return err
			}
		}
	}
	b.logger.Debug("[BLOCKS] flash finished", "count", n)
	return nil
}

// step writes v to the switch, retrying while the busy gate is taken.
// Without a session the step is skipped, as a plain Send would be.
func (b *Blocks) step(ctx context.Context, limiter *rate.Limiter, v codec.Value) error {
	for {
		if err := b.pace(ctx, limiter); err != nil {
			return err
		}
		sent, err := b.proxy.TrySend(codec.Switch, v)
		if err != nil || sent {
			return err
		}
		if !b.proxy.Busy() {
			b.logger.Debug("[BLOCKS] flash step dropped, no session", "value", v)
			return nil
		}
		b.logger.Debug("[BLOCKS] flash step lost the busy gate, retrying", "value", v)
	}
}

// pace waits for the next limiter slot at which no write is in flight.
func (b *Blocks) pace(ctx context.Context, limiter *rate.Limiter) error {
	for {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("blocks: flash: %w", err)
		}
		if !b.proxy.Busy() {
			return nil
		}
	}
}

// LightState reports whether the switch is known to be in state v.
func (b *Blocks) LightState(v codec.Value) bool {
	return b.matches(codec.Switch, v)
}

// BrightnessState reports whether the brightness is known to be v.
func (b *Blocks) BrightnessState(v codec.Value) bool {
	return b.matches(codec.Brightness, v)
}

// TemperatureState reports whether the color temperature is known to be v.
func (b *Blocks) TemperatureState(v codec.Value) bool {
	return b.matches(codec.Temperature, v)
}

// An unknown cached state matches nothing.
func (b *Blocks) matches(ch codec.Channel, v codec.Value) bool {
	cur, ok := b.proxy.Query(ch)
	return ok && cur == v
}

func (b *Blocks) command(ch codec.Channel) handler {
	return func(_ context.Context, arg string) (bool, error) {
		v, err := b.table.ParseValue(ch, arg)
		if err != nil {
			return false, fmt.Errorf("blocks: %w", err)
		}
		return false, b.proxy.Send(ch, v)
	}
}

func (b *Blocks) predicate(ch codec.Channel) handler {
	return func(_ context.Context, arg string) (bool, error) {
		v, err := b.table.ParseValue(ch, arg)
		if err != nil {
			return false, fmt.Errorf("blocks: %w", err)
		}
		return b.matches(ch, v), nil
	}
}

func (b *Blocks) flash(ctx context.Context, arg string) (bool, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return false, fmt.Errorf("blocks: flash count %q: %w", arg, err)
	}
	return false, b.FlashLights(ctx, n)
}
