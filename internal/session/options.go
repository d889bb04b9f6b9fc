package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/ara-light/internal/ble"
	"github.com/chaz8081/ara-light/internal/codec"
	"github.com/chaz8081/ara-light/internal/config"
)

// Options configures a Manager. Zero values fall back to the defaults of
// current Ara firmware.
type Options struct {
	Table       *codec.Table
	ServiceUUID string
	// OptionalServiceUUID is searched for a characteristic the lighting
	// service does not expose. Empty disables the fallback.
	OptionalServiceUUID string
	CharUUIDs           map[codec.Channel]string

	PollIntervals  map[codec.Channel]time.Duration
	Inactivity     time.Duration // auto-disconnect after this long without a read
	BusyTimeout    time.Duration // busy gate deadline
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration

	// OptimisticUpdates caches the commanded value as soon as a write is
	// issued instead of waiting for the next poll to confirm it.
	OptimisticUpdates bool
	// Notifications subscribes to characteristic notifications in addition
	// to polling.
	Notifications     bool
	WriteWithResponse bool

	Clock  Clock
	Logger *slog.Logger

	// OnStateChange is called after every lifecycle transition.
	OnStateChange func(State)
	// OnWriteError is called when the transport reports a failed write.
	// The busy gate has already been released when it runs.
	OnWriteError func(codec.Channel, error)
}

// DefaultOptions returns options for v3 firmware with the stock UUIDs.
func DefaultOptions() Options {
	table, err := codec.Profile(codec.DefaultProfile)
	if err != nil {
		panic(err) // built-in profile
	}
	return Options{
		Table:               table,
		ServiceUUID:         ble.LightingServiceUUID,
		OptionalServiceUUID: ble.OptionalServiceUUID,
		CharUUIDs: map[codec.Channel]string{
			codec.Switch:      ble.SwitchCharUUID,
			codec.Brightness:  ble.BrightnessCharUUID,
			codec.Temperature: ble.TemperatureCharUUID,
		},
		PollIntervals: map[codec.Channel]time.Duration{
			codec.Switch:      100 * time.Millisecond,
			codec.Brightness:  125 * time.Millisecond,
			codec.Temperature: time.Second,
		},
		Inactivity:        4500 * time.Millisecond,
		BusyTimeout:       5 * time.Second,
		ScanTimeout:       5 * time.Second,
		ConnectTimeout:    10 * time.Second,
		OptimisticUpdates: true,
		WriteWithResponse: true,
	}
}

// OptionsFromConfig builds Options from the loaded application config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	table, err := codec.Profile(cfg.Device.Firmware)
	if err != nil {
		return Options{}, fmt.Errorf("session: %w", err)
	}
	opts := DefaultOptions()
	opts.Table = table
	opts.ServiceUUID = cfg.Device.ServiceUUID
	opts.OptionalServiceUUID = cfg.Device.OptionalService
	opts.CharUUIDs = map[codec.Channel]string{
		codec.Switch:      cfg.Device.Characteristics.Switch,
		codec.Brightness:  cfg.Device.Characteristics.Brightness,
		codec.Temperature: cfg.Device.Characteristics.Temperature,
	}
	opts.PollIntervals = map[codec.Channel]time.Duration{
		codec.Switch:      cfg.Timing.SwitchPoll,
		codec.Brightness:  cfg.Timing.BrightnessPoll,
		codec.Temperature: cfg.Timing.TemperaturePoll,
	}
	opts.Inactivity = cfg.Timing.Inactivity
	opts.BusyTimeout = cfg.Timing.BusyTimeout
	opts.ScanTimeout = cfg.Timing.ScanTimeout
	opts.ConnectTimeout = cfg.Timing.ConnectTimeout
	opts.OptimisticUpdates = cfg.Session.OptimisticUpdates
	opts.Notifications = cfg.Session.Notifications
	opts.WriteWithResponse = cfg.Session.WriteWithResponse
	return opts, nil
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Table == nil {
		o.Table = def.Table
	}
	if o.ServiceUUID == "" {
		o.ServiceUUID = def.ServiceUUID
	}
	if o.CharUUIDs == nil {
		o.CharUUIDs = def.CharUUIDs
	}
	intervals := make(map[codec.Channel]time.Duration, len(codec.Channels))
	for _, ch := range codec.Channels {
		intervals[ch] = o.PollIntervals[ch]
		if intervals[ch] <= 0 {
			intervals[ch] = def.PollIntervals[ch]
		}
	}
	o.PollIntervals = intervals
	if o.Inactivity <= 0 {
		o.Inactivity = def.Inactivity
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = def.BusyTimeout
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = def.ScanTimeout
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
