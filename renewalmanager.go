package nattraversal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PortChangeCallback is called when the external port changes during renewal.
// The callback receives the new external port number.
type PortChangeCallback func(newExternalPort int)

// MappingState is a snapshot of a kept-alive port mapping.
type MappingState struct {
	Protocol     string
	InternalPort int
	ExternalPort int
	Active       bool
	RenewedAt    time.Time
	LastError    error
}

func (s MappingState) String() string {
	status := "closed"
	if s.Active {
		status = "active"
	}
	out := fmt.Sprintf("%s %d -> %d (%s)", s.Protocol, s.InternalPort, s.ExternalPort, status)
	if !s.RenewedAt.IsZero() {
		out += fmt.Sprintf(", renewed %s", s.RenewedAt.Format(time.RFC3339))
	}
	if s.LastError != nil {
		out += fmt.Sprintf(", last error: %v", s.LastError)
	}
	return out
}

// RenewalManager keeps a port mapping alive by re-requesting it before the
// lease runs out, and removes it on Stop.
type RenewalManager struct {
	mapper       PortMapper
	protocol     string
	internalPort int
	externalPort int
	interval     time.Duration
	lease        time.Duration
	ticker       *time.Ticker
	done         chan struct{}
	mu           sync.Mutex
	started      bool
	renewedAt    time.Time
	lastErr      error
	onPortChange PortChangeCallback
}

// NewRenewalManager creates a renewal manager for a port mapping.
func NewRenewalManager(mapper PortMapper, protocol string, internalPort, externalPort int) *RenewalManager {
	return &RenewalManager{
		mapper:       mapper,
		protocol:     protocol,
		internalPort: internalPort,
		externalPort: externalPort,
		interval:     renewalInterval,
		lease:        mappingDuration,
		// done channel will be created when Start() is called
	}
}

// SetLease changes the requested lease; renewals happen at half of it.
// It takes effect on the next Start.
func (r *RenewalManager) SetLease(lease time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lease <= 0 {
		return
	}
	r.lease = lease
	r.interval = lease / 2
}

// SetPortChangeCallback sets a callback function that will be invoked when
// the external port changes during renewal. This can happen if the NAT device
// assigns a different port during renewal (rare but possible).
func (r *RenewalManager) SetPortChangeCallback(callback PortChangeCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPortChange = callback
}

// ExternalPort returns the current external port number.
func (r *RenewalManager) ExternalPort() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.externalPort
}

// State returns a snapshot of the mapping.
func (r *RenewalManager) State() MappingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return MappingState{
		Protocol:     r.protocol,
		InternalPort: r.internalPort,
		ExternalPort: r.externalPort,
		Active:       r.started,
		RenewedAt:    r.renewedAt,
		LastError:    r.lastErr,
	}
}

// Start begins the renewal process in a background goroutine.
// Multiple Start/Stop cycles are safe - each cycle creates fresh channels
// and the goroutine captures local references to avoid data races.
func (r *RenewalManager) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}

	r.started = true
	r.done = make(chan struct{})
	r.ticker = time.NewTicker(r.interval)

	done := r.done
	ticker := r.ticker
	go r.renewLoop(ticker.C, done)
}

// Stop terminates the renewal process and unmaps the port.
func (r *RenewalManager) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}

	r.started = false
	close(r.done)
	r.ticker.Stop()

	if err := r.mapper.UnmapPort(r.protocol, r.externalPort); err != nil {
		r.lastErr = err
		slog.Warn("failed to unmap port during shutdown",
			"protocol", r.protocol,
			"port", r.externalPort,
			"error", err)
	}
}

func (r *RenewalManager) renewLoop(tickerC <-chan time.Time, done <-chan struct{}) {
	for {
		select {
		case <-tickerC:
			r.renew()
		case <-done:
			return
		}
	}
}

// renew refreshes the port mapping. If the NAT device assigns a different
// external port, the callback (if set) is invoked with the new port number.
func (r *RenewalManager) renew() {
	r.mu.Lock()
	lease := r.lease
	r.mu.Unlock()

	newPort, err := r.mapper.MapPort(r.protocol, r.internalPort, lease)
	if err != nil {
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		slog.Warn("port mapping renewal failed",
			"protocol", r.protocol,
			"port", r.ExternalPort(),
			"error", err)
		return
	}

	r.mu.Lock()
	oldPort := r.externalPort
	callback := r.onPortChange
	r.renewedAt = time.Now()
	r.lastErr = nil
	if newPort != oldPort {
		r.externalPort = newPort
		slog.Info("external port changed during renewal",
			"protocol", r.protocol,
			"oldPort", oldPort,
			"newPort", newPort)
	}
	r.mu.Unlock()

	// Invoke callback outside the lock to prevent deadlocks
	if newPort != oldPort && callback != nil {
		callback(newPort)
	}

	slog.Debug("port mapping renewed",
		"protocol", r.protocol,
		"port", newPort)
}
