package config

// Absorb defaults.
const (
	DefaultMaxStackSize  = 50
	DefaultSkipEmpty     = true
	DefaultAddProvenance = false
	DefaultMaxFileSize   = "10MB"
	DefaultWorkers       = 0
)

// Diff defaults.
const (
	DefaultDiffTimeout = "0s"
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)
