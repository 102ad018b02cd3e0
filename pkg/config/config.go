package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	DefaultRegistryPath = "./rooms.yaml"
)

// Background task intervals
const (
	RetentionInterval = 1 * time.Hour
	BadgerGCInterval  = 10 * time.Minute
	DefaultRetention  = 90 * 24 * time.Hour
)

// Door event recording
const (
	DefaultDebounce   = 3 * time.Second
	RecordTimeout     = 5 * time.Second
	MaxDoorBodyBytes  = 4 << 10
	DefaultMQTTTopic  = "roomwatch/rooms"
	DefaultMQTTClient = "roomwatch-server"
)

// Usage query timeouts and defaults
const (
	QueryTimeout        = 30 * time.Second
	StatusTimeout       = 5 * time.Second
	StatsTimeout        = 5 * time.Second
	DefaultLogDays      = 10
	DefaultBeginHour    = 10
	DefaultEndHour      = 19
	DefaultLogStepHours = 2
	MaxLogWindow        = 366 * 24 * time.Hour
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 90 * 24 * time.Hour
	MaxImportBytes      = 64 << 20
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
	WSMaxMessageBytes = 4 << 10
)
