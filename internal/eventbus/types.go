// Package eventbus provides the typed, in-process pub/sub that fans out
// filesystem, indexing, sync and provider-connect progress to WebSocket
// and MCP subscribers.
package eventbus

import "time"

// Topic selects the schema of an Event's Payload, mirroring the "type"
// field on the WebSocket wire.
type Topic string

const (
	TopicCreated           Topic = "created"
	TopicDeleted           Topic = "deleted"
	TopicModified          Topic = "modified"
	TopicMoved             Topic = "moved"
	TopicIndexStatus       Topic = "index_status"
	TopicIndexComplete     Topic = "index_complete"
	TopicSyncStatus        Topic = "sync_status"
	TopicProviderConnected Topic = "provider_connected"
	TopicPing              Topic = "ping"
)

// Event is the envelope published on the bus. Per-topic ordering is
// preserved; no ordering is guaranteed across topics.
type Event struct {
	ID        string
	Topic     Topic
	Path      string // logical path the event concerns, when applicable
	Provider  string // populated for TopicProviderConnected ("{provider}_connected")
	Payload   interface{}
	Timestamp time.Time
}

// IndexStatusPayload is the payload for TopicIndexStatus.
type IndexStatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// IndexCompletePayload is the payload for TopicIndexComplete.
type IndexCompletePayload struct {
	FilesIndexed int `json:"files_indexed"`
	TotalChunks  int `json:"total_chunks"`
}

// SyncStatusPayload is the payload for TopicSyncStatus.
type SyncStatusPayload struct {
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	ReconnectPrompt bool   `json:"reconnect_prompt,omitempty"`
}

// FSEventPayload is the payload for created/deleted/modified/moved.
type FSEventPayload struct {
	AbsPath  string `json:"abs_path"`
	IsDir    bool   `json:"is_dir"`
	FromPath string `json:"from_path,omitempty"` // populated for "moved" events
}
