package domain

import "time"

// EventKind identifies an inbound event processed by the registry
type EventKind string

// Stream engine events. The id of a stream event is the source uri.
const (
	EventProgress     EventKind = "downloadProgress"
	EventStateChanged EventKind = "onDownloadStateChanged"
	EventCompleted    EventKind = "downloadCompleted"
	EventRemoved      EventKind = "downloadRemoved"

	EventLicensePrepared         EventKind = "onPrepared"
	EventLicensePrepareError     EventKind = "onPrepareError"
	EventLicenseDownloaded       EventKind = "onLicenseDownloaded"
	EventLicenseDownloadFailed   EventKind = "onLicenseDownloadFailed"
	EventLicenseCheck            EventKind = "onLicenseCheck"
	EventLicenseCheckFailed      EventKind = "onLicenseCheckFailed"
	EventLicenseReleased         EventKind = "onLicenseReleased"
	EventLicenseReleasedFailed   EventKind = "onLicenseReleasedFailed"
	EventLicenseKeysRestored     EventKind = "onLicenseKeysRestored"
	EventLicenseRestoreFailed    EventKind = "onLicenseRestoreFailed"
	EventAllLicensesReleased     EventKind = "onAllLicensesReleased"
	EventAllLicensesReleaseError EventKind = "onAllLicensesReleaseFailed"
)

// Binary engine events. The id of a binary event is the source id.
const (
	EventBinaryStart     EventKind = "onBinaryStart"
	EventBinaryProgress  EventKind = "onBinaryProgress"
	EventBinaryCompleted EventKind = "onBinaryCompleted"
	EventBinaryRemoved   EventKind = "onBinaryRemoved"
	EventBinaryError     EventKind = "onBinaryError"
	EventBinaryPaused    EventKind = "onBinaryPaused"
)

// Registry mutations routed through the same queue as engine events
const (
	EventItemAdded     EventKind = "itemAdded"
	EventSessionJoined EventKind = "sessionJoined"
	EventSessionLeft   EventKind = "sessionLeft"
	EventItemDeleted   EventKind = "itemDeleted"
)

// IsLicense reports whether the kind is a license lifecycle event
func (k EventKind) IsLicense() bool {
	switch k {
	case EventLicensePrepared, EventLicensePrepareError, EventLicenseDownloaded,
		EventLicenseDownloadFailed, EventLicenseCheck, EventLicenseCheckFailed,
		EventLicenseReleased, EventLicenseReleasedFailed, EventLicenseKeysRestored,
		EventLicenseRestoreFailed, EventAllLicensesReleased, EventAllLicensesReleaseError:
		return true
	}
	return false
}

// Event is one inbound event. Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind     `json:"kind"`
	ID       string        `json:"id,omitempty"`
	Percent  float64       `json:"percent,omitempty"`
	State    DownloadState `json:"state,omitempty"`
	Manifest string        `json:"manifest,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     int           `json:"code,omitempty"`
	UserID   string        `json:"user_id,omitempty"`
	Item     *DownloadItem `json:"item,omitempty"`
}

// Outward topics published on the event bus
const (
	TopicDownloadsList   = "downloadsList"
	TopicDownloadsSize   = "downloadsSize"
	TopicDownloads       = "downloads"
	TopicOfflineData     = "offlineData"
	TopicDownloadsEnable = "downloadsEnable"
	TopicDownloadError   = "downloadError"
	TopicDownloadsResult = "downloadsResult"
	TopicLicense         = "license"
)

// BusEvent is a message delivered to event bus subscribers
type BusEvent struct {
	Topic     string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// DownloadsListPayload is published whenever rows are added or removed
type DownloadsListPayload struct {
	Count int `json:"count"`
}

// DownloadsSizePayload carries the bytes consumed on disk
type DownloadsSizePayload struct {
	Size int64 `json:"size"`
}

// DownloadsStatusPayload is the aggregate status of the current user
type DownloadsStatusPayload struct {
	IsStarted bool `json:"isStarted"`
	Pending   bool `json:"pending"`
}

// OfflineDataPayload carries an updated row
type OfflineDataPayload struct {
	Index int          `json:"index"`
	Item  DownloadItem `json:"item"`
}

// DownloadsEnablePayload carries the download gate
type DownloadsEnablePayload struct {
	Enabled bool `json:"enabled"`
}

// DownloadErrorPayload describes a failed download
type DownloadErrorPayload struct {
	ID      string        `json:"id"`
	State   DownloadState `json:"state"`
	Message string        `json:"message"`
	Item    *DownloadItem `json:"item,omitempty"`
}

// LicensePayload forwards a license lifecycle event
type LicensePayload struct {
	Event    EventKind `json:"event"`
	Manifest string    `json:"manifest,omitempty"`
	Error    string    `json:"error,omitempty"`
	Code     int       `json:"code,omitempty"`
}

// OperationFailure is one failed engine call inside a batch
type OperationFailure struct {
	URI    string `json:"uri"`
	Reason string `json:"reason"`
}

// OperationResultPayload is the outward form of a BatchResult
type OperationResultPayload struct {
	Operation string             `json:"operation"`
	OK        bool               `json:"ok"`
	Failures  []OperationFailure `json:"failures"`
}
