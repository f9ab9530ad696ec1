package domain

import "context"

// Network types reported by network sources
const (
	NetworkTypeWifi     = "wifi"
	NetworkTypeCellular = "cellular"
	NetworkTypeEthernet = "ethernet"
	NetworkTypeNone     = "none"
)

// NetworkState is a connectivity snapshot. It is replaced wholesale and never persisted.
type NetworkState struct {
	IsConnected         bool   `json:"isConnected"`
	IsInternetReachable bool   `json:"isInternetReachable"`
	IsWifiEnabled       bool   `json:"isWifiEnabled"`
	Type                string `json:"type"`
}

// FallbackNetworkState is used when the network source cannot be read
func FallbackNetworkState() NetworkState {
	return NetworkState{
		IsConnected:         true,
		IsInternetReachable: false,
		IsWifiEnabled:       false,
		Type:                "",
	}
}

// NetworkSource reads the current connectivity state
type NetworkSource interface {
	Fetch(ctx context.Context) (NetworkState, error)
}

// DownloadPolicy holds the registry flags the download gate depends on
type DownloadPolicy struct {
	Enabled          bool
	DownloadJustWifi bool
	UserRequired     bool
	UserLogged       bool
}

// CanDownload evaluates the download gate for a policy and a network snapshot
func CanDownload(policy DownloadPolicy, network NetworkState) bool {
	if !policy.Enabled || !network.IsConnected {
		return false
	}
	if policy.DownloadJustWifi && network.Type != NetworkTypeWifi {
		return false
	}
	if policy.UserRequired && !policy.UserLogged {
		return false
	}
	return true
}
