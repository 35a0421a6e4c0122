package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cuby-bridge/internal/auth"
	"cuby-bridge/internal/cubyapi"
	"cuby-bridge/internal/store"
)

// ErrRefreshInFlight is returned when a refresh tick fires while the
// previous cycle is still running. Ticks coalesce; they are never queued.
var ErrRefreshInFlight = errors.New("refresh already in flight")

// API is the cloud client surface the coordinator drives.
type API interface {
	ListDevices(ctx context.Context, token string) ([]cubyapi.Device, error)
	FetchState(ctx context.Context, token, deviceID string) (cubyapi.RawState, error)
	SendCommand(ctx context.Context, token, deviceID string, cmd cubyapi.Command) error
}

// TokenSource supplies the live bearer token and accepts invalidation
// when the cloud rejects it.
type TokenSource interface {
	Token() (string, error)
	Invalidate()
}

// Config holds coordinator configuration.
type Config struct {
	PollInterval time.Duration
}

// CycleInfo summarizes the most recent poll cycle for observability.
type CycleInfo struct {
	LastAttempt         time.Time     `json:"last_attempt"`
	LastSuccess         time.Time     `json:"last_success"`
	Duration            time.Duration `json:"duration"`
	Succeeded           int           `json:"succeeded"`
	Failed              int           `json:"failed"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// deviceEntry holds the canonical state for one device. Its mutex
// serializes poll writes and command writes for that device only;
// different devices proceed independently.
type deviceEntry struct {
	mu          sync.Mutex
	state       DeviceState
	hasState    bool
	gen         uint64 // bumped by every optimistic command write
	pending     []PendingCommand
	unavailable bool
	lastErr     string
}

// Coordinator owns the canonical per-device state, drives the poll
// cycle, and dispatches control commands. It is the single source of
// truth consumed by the MQTT bridge, the web API, and metrics.
type Coordinator struct {
	api    API
	tokens TokenSource
	store  store.Store
	events *EventBus
	logger *slog.Logger
	config Config
	now    func() time.Time

	mu       sync.RWMutex // guards devices, order, settings
	devices  map[string]*Device
	order    []string
	settings *store.Settings

	entriesMu sync.Mutex
	entries   map[string]*deviceEntry

	refreshing atomic.Bool
	cycleMu    sync.RWMutex
	cycle      CycleInfo
}

// New creates a Coordinator. Settings are loaded from the store, falling
// back to defaults (all devices, follow the device's unit).
func New(api API, tokens TokenSource, st store.Store, events *EventBus, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	c := &Coordinator{
		api:     api,
		tokens:  tokens,
		store:   st,
		events:  events,
		logger:  logger.With("component", "coordinator"),
		config:  cfg,
		now:     time.Now,
		devices: make(map[string]*Device),
		entries: make(map[string]*deviceEntry),
	}

	settings, err := st.GetSettings()
	switch {
	case err == nil:
		c.settings = settings
	case errors.Is(err, store.ErrNotFound):
		c.settings = &store.Settings{DisplayUnit: store.UnitFollowDevice}
	default:
		c.logger.Error("load settings", "err", err)
		c.settings = &store.Settings{DisplayUnit: store.UnitFollowDevice}
	}
	return c
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// Settings returns a copy of the current bridge settings.
func (c *Coordinator) Settings() store.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := *c.settings
	if s.DeviceIDs != nil {
		s.DeviceIDs = append([]string(nil), s.DeviceIDs...)
	}
	return s
}

// ApplySettings persists new settings and reloads the device set so the
// selection takes effect immediately.
func (c *Coordinator) ApplySettings(ctx context.Context, s store.Settings) error {
	if err := c.store.SaveSettings(&s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	c.mu.Lock()
	c.settings = &s
	c.mu.Unlock()
	return c.LoadDevices(ctx)
}

// Devices returns the discovered device set in stable order.
func (c *Coordinator) Devices() []*Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Device, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.devices[id])
	}
	return out
}

// Device returns one discovered device by ID.
func (c *Coordinator) Device(id string) (*Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dev, ok := c.devices[id]
	return dev, ok
}

// State returns a copy of the canonical state for a device, and whether
// any state exists yet.
func (c *Coordinator) State(id string) (DeviceState, bool) {
	e := c.lookupEntry(id)
	if e == nil {
		return DeviceState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasState {
		return DeviceState{}, false
	}
	return e.state, true
}

// Unavailable reports whether the device was removed server-side.
func (c *Coordinator) Unavailable(id string) bool {
	e := c.lookupEntry(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unavailable
}

// LastError returns the last per-device poll error, if any.
func (c *Coordinator) LastError(id string) string {
	e := c.lookupEntry(id)
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// PendingCommands returns the optimistic writes not yet confirmed by a
// poll, across all devices.
func (c *Coordinator) PendingCommands() []PendingCommand {
	c.entriesMu.Lock()
	entries := make([]*deviceEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.entriesMu.Unlock()

	var out []PendingCommand
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.pending...)
		e.mu.Unlock()
	}
	return out
}

// CycleInfo returns a snapshot of the last poll cycle stats.
func (c *Coordinator) CycleInfo() CycleInfo {
	c.cycleMu.RLock()
	defer c.cycleMu.RUnlock()
	return c.cycle
}

// LoadDevices fetches the device list and replaces the session's device
// set, filtered by the settings selection. State entries for devices
// that survive the reload are kept.
func (c *Coordinator) LoadDevices(ctx context.Context) error {
	token, err := c.tokens.Token()
	if err != nil {
		c.emitReauth()
		return err
	}

	list, err := c.api.ListDevices(ctx, token)
	if err != nil {
		if cubyapi.IsAuthError(err) {
			c.tokens.Invalidate()
			c.emitReauth()
			return auth.ErrReauthRequired
		}
		return fmt.Errorf("load devices: %w", err)
	}

	settings := c.Settings()
	devices := make(map[string]*Device, len(list))
	order := make([]string, 0, len(list))
	for _, item := range list {
		if item.ID == "" || !settings.Selects(item.ID) {
			continue
		}
		name := item.Name
		if name == "" {
			name = item.Alias
		}
		if name == "" {
			name = "Cuby Device " + item.ID
		}
		caps := DefaultCapabilities()
		if item.Capabilities != nil {
			caps = capabilitiesFromAPI(*item.Capabilities)
		}
		devices[item.ID] = &Device{
			ID:              item.ID,
			Name:            name,
			Model:           item.Model,
			FirmwareVersion: item.FirmwareVersion,
			Capabilities:    caps,
		}
		order = append(order, item.ID)
	}

	c.mu.Lock()
	c.devices = devices
	c.order = order
	c.mu.Unlock()

	// Drop state entries for devices no longer exposed.
	c.entriesMu.Lock()
	for id := range c.entries {
		if _, ok := devices[id]; !ok {
			delete(c.entries, id)
		}
	}
	c.entriesMu.Unlock()

	c.logger.Info("devices loaded", "count", len(order))
	c.events.Emit(Event{Type: EventDevicesLoaded, Data: map[string]any{"count": len(order)}})
	return nil
}

func capabilitiesFromAPI(caps cubyapi.Capabilities) Capabilities {
	out := DefaultCapabilities()
	if caps.Modes != nil {
		out.Modes = caps.Modes
	}
	if caps.FanSpeeds != nil {
		out.FanSpeeds = caps.FanSpeeds
	}
	out.SwingVertical = caps.SwingVertical
	out.SwingHorizontal = caps.SwingHorizontal
	if caps.Flags != nil {
		out.Flags = caps.Flags
	}
	return out
}

// RefreshAll polls every device once and returns per-device results.
// One device's failure never blocks the rest; an auth rejection aborts
// the remainder of the cycle and escalates. A cycle that fires while the
// previous one is still running is skipped (coalesced), which is also
// the backpressure against a hung call.
func (c *Coordinator) RefreshAll(ctx context.Context) (map[string]error, error) {
	if !c.refreshing.CompareAndSwap(false, true) {
		c.logger.Debug("previous cycle still in flight, tick skipped")
		return nil, ErrRefreshInFlight
	}
	defer c.refreshing.Store(false)

	start := c.now()
	devices := c.Devices()
	results := make(map[string]error, len(devices))
	var cycleErr error

	for _, dev := range devices {
		if err := ctx.Err(); err != nil {
			cycleErr = err
			break
		}
		token, err := c.tokens.Token()
		if err != nil {
			c.emitReauth()
			cycleErr = err
			break
		}
		err = c.refreshDevice(ctx, token, dev)
		results[dev.ID] = err
		if cubyapi.IsAuthError(err) {
			// Session is dead: abort remaining devices, escalate.
			c.tokens.Invalidate()
			c.emitReauth()
			cycleErr = auth.ErrReauthRequired
			break
		}
	}

	succeeded, failed := 0, 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			failed++
		}
	}

	c.cycleMu.Lock()
	c.cycle.LastAttempt = start
	c.cycle.Duration = c.now().Sub(start)
	c.cycle.Succeeded = succeeded
	c.cycle.Failed = failed
	if cycleErr == nil && failed == 0 {
		c.cycle.LastSuccess = start
		c.cycle.ConsecutiveFailures = 0
	} else {
		c.cycle.ConsecutiveFailures++
	}
	c.cycleMu.Unlock()

	c.logger.Debug("cycle finished", "succeeded", succeeded, "failed", failed, "err", cycleErr)
	return results, cycleErr
}

func (c *Coordinator) refreshDevice(ctx context.Context, token string, dev *Device) error {
	e := c.entry(dev.ID)

	e.mu.Lock()
	genAtFetch := e.gen
	var prev *DeviceState
	if e.hasState {
		s := e.state
		prev = &s
	}
	e.mu.Unlock()

	raw, err := c.api.FetchState(ctx, token, dev.ID)
	if err != nil {
		var nf *cubyapi.DeviceNotFoundError
		switch {
		case cubyapi.IsAuthError(err):
			return err
		case errors.As(err, &nf):
			c.markUnavailable(dev.ID, err)
			return err
		default:
			c.markStale(dev.ID, err)
			return err
		}
	}

	st, err := Normalize(dev.ID, raw, prev, c.now())
	if err != nil {
		c.markStale(dev.ID, err)
		return err
	}

	e.mu.Lock()
	if e.gen != genAtFetch {
		// Commands landed while this fetch was in flight. The fetch began
		// before them, so its snapshot must not revert the newer
		// optimistic writes; they stay applied until the next cycle,
		// which is authoritative.
		kept := e.pending[:0]
		for _, p := range e.pending {
			if p.gen > genAtFetch {
				applyField(&st, p.Field, p.Value)
				kept = append(kept, p)
			}
		}
		e.pending = kept
	} else {
		// Poll is ground truth; it silently supersedes any optimistic
		// value whether or not the device applied the command.
		e.pending = nil
	}
	e.state = st
	e.hasState = true
	e.unavailable = false
	e.lastErr = ""
	snapshot := e.state
	e.mu.Unlock()

	c.events.Emit(Event{Type: EventDeviceState, Data: snapshot})
	return nil
}

// markStale keeps the previous canonical record intact but flags it
// unreliable. A full normalized record replaces it on the next success.
func (c *Coordinator) markStale(deviceID string, cause error) {
	e := c.entry(deviceID)
	e.mu.Lock()
	if e.hasState {
		e.state.Stale = true
	}
	e.lastErr = cause.Error()
	var snapshot *DeviceState
	if e.hasState {
		s := e.state
		snapshot = &s
	}
	e.mu.Unlock()

	c.logger.Warn("device poll failed", "device", deviceID, "err", cause)
	c.events.Emit(Event{Type: EventDeviceStale, Data: map[string]any{
		"device_id": deviceID,
		"error":     cause.Error(),
		"state":     snapshot,
	}})
}

func (c *Coordinator) markUnavailable(deviceID string, cause error) {
	e := c.entry(deviceID)
	e.mu.Lock()
	e.unavailable = true
	e.lastErr = cause.Error()
	e.mu.Unlock()

	c.logger.Warn("device removed server-side", "device", deviceID)
	c.events.Emit(Event{Type: EventDeviceUnavailable, Data: map[string]any{
		"device_id": deviceID,
	}})
}

func (c *Coordinator) emitReauth() {
	c.events.Emit(Event{Type: EventReauthRequired, Data: nil})
}

func (c *Coordinator) entry(id string) *deviceEntry {
	c.entriesMu.Lock()
	defer c.entriesMu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		e = &deviceEntry{}
		c.entries[id] = e
	}
	return e
}

func (c *Coordinator) lookupEntry(id string) *deviceEntry {
	c.entriesMu.Lock()
	defer c.entriesMu.Unlock()
	return c.entries[id]
}

// Run drives the periodic poll loop until ctx is cancelled. Discovery
// and the first refresh failing is tolerated: the loop keeps retrying on
// the regular interval, and re-auth arrives through the event bus.
func (c *Coordinator) Run(ctx context.Context) {
	if err := c.LoadDevices(ctx); err != nil {
		c.logger.Warn("initial device discovery failed", "err", err)
	}
	if _, err := c.RefreshAll(ctx); err != nil && !errors.Is(err, ErrRefreshInFlight) {
		c.logger.Warn("initial refresh failed", "err", err)
	}

	timer := time.NewTimer(c.config.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("poll loop shutting down")
			return
		case <-timer.C:
			if len(c.Devices()) == 0 {
				// Rediscover after a failed or empty discovery.
				if err := c.LoadDevices(ctx); err != nil {
					c.logger.Debug("device discovery retry failed", "err", err)
				}
			}
			if _, err := c.RefreshAll(ctx); err != nil && !errors.Is(err, ErrRefreshInFlight) {
				c.logger.Debug("refresh cycle failed", "err", err)
			}
			timer.Reset(c.config.PollInterval)
		}
	}
}
