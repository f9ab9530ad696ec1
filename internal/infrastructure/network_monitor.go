package infrastructure

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

// ProbeSource derives connectivity from a TCP dial and the host's interfaces
type ProbeSource struct {
	config *domain.NetworkConfig
	dialer func(ctx context.Context, network, address string) (net.Conn, error)
	sysNet string
}

// NewProbeSource creates a network source probing config.ProbeAddress
func NewProbeSource(config *domain.NetworkConfig) *ProbeSource {
	d := &net.Dialer{Timeout: config.ProbeTimeout}
	return &ProbeSource{
		config: config,
		dialer: d.DialContext,
		sysNet: "/sys/class/net",
	}
}

// Fetch probes the network
func (p *ProbeSource) Fetch(ctx context.Context) (domain.NetworkState, error) {
	netType, err := p.interfaceType()
	if err != nil {
		return domain.NetworkState{}, fmt.Errorf("failed to list interfaces: %w", err)
	}

	state := domain.NetworkState{
		Type:          netType,
		IsWifiEnabled: netType == domain.NetworkTypeWifi,
	}
	if netType == domain.NetworkTypeNone {
		return state, nil
	}

	probeCtx := ctx
	if p.config.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, p.config.ProbeTimeout)
		defer cancel()
	}
	conn, err := p.dialer(probeCtx, "tcp", p.config.ProbeAddress)
	if err == nil {
		conn.Close()
		state.IsConnected = true
		state.IsInternetReachable = true
	}
	return state, nil
}

func (p *ProbeSource) interfaceType() (string, error) {
	if p.config.TypeOverride != "" {
		return p.config.TypeOverride, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	netType := domain.NetworkTypeNone
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if _, err := os.Stat(filepath.Join(p.sysNet, iface.Name, "wireless")); err == nil {
			return domain.NetworkTypeWifi, nil
		}
		netType = domain.NetworkTypeEthernet
	}
	return netType, nil
}

// ManualSource returns whatever state the host last pushed
type ManualSource struct {
	mu    sync.RWMutex
	state domain.NetworkState
}

// NewManualSource creates a manual network source
func NewManualSource(initial domain.NetworkState) *ManualSource {
	return &ManualSource{state: initial}
}

// Fetch returns the pushed state
func (m *ManualSource) Fetch(ctx context.Context) (domain.NetworkState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

// Set replaces the pushed state
func (m *ManualSource) Set(state domain.NetworkState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// NetworkMonitor keeps the current network snapshot and notifies subscribers on change
type NetworkMonitor struct {
	source   domain.NetworkSource
	interval time.Duration
	logger   *zap.Logger

	mu          sync.RWMutex
	state       domain.NetworkState
	subscribers map[int]func(domain.NetworkState)
	nextID      int
}

// NewNetworkMonitor creates a new network monitor
func NewNetworkMonitor(source domain.NetworkSource, interval time.Duration, logger *zap.Logger) *NetworkMonitor {
	return &NetworkMonitor{
		source:      source,
		interval:    interval,
		logger:      logger,
		state:       domain.FallbackNetworkState(),
		subscribers: make(map[int]func(domain.NetworkState)),
	}
}

// Snapshot returns the current state
func (m *NetworkMonitor) Snapshot() domain.NetworkState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Refresh reads the source and returns the new snapshot. A fetch failure
// falls back to connected but unreachable.
func (m *NetworkMonitor) Refresh(ctx context.Context) domain.NetworkState {
	state, err := m.source.Fetch(ctx)
	if err != nil {
		m.logger.Warn("Failed to fetch network state", zap.Error(err))
		state = domain.FallbackNetworkState()
	}
	m.Set(state)
	return state
}

// Set replaces the snapshot, notifying subscribers when it changed
func (m *NetworkMonitor) Set(state domain.NetworkState) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	subs := make([]func(domain.NetworkState), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Info("Network state changed",
		zap.Bool("connected", state.IsConnected),
		zap.Bool("reachable", state.IsInternetReachable),
		zap.String("type", state.Type))

	for _, fn := range subs {
		fn(state)
	}
}

// Subscribe registers fn for changes and returns a function that removes it
func (m *NetworkMonitor) Subscribe(fn func(domain.NetworkState)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}

// Run polls the source until ctx is done
func (m *NetworkMonitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Network monitor started", zap.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Network monitor stopped")
			return nil
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}
