package consts

import "time"

// Buffer sizes for various operations
const (
	// BufferSize1KB is 1 kilobyte
	BufferSize1KB = 1024
	// BufferSize4KB is 4 kilobytes
	BufferSize4KB = 4 * 1024
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
)

// Connection limits
const (
	// MaxMessageSize is the largest frame accepted from a client
	MaxMessageSize = BufferSize1MB
	// MaxBackendOutput caps the output kept from one backend response, for
	// both child processes and HTTP services
	MaxBackendOutput = 16 * BufferSize1MB
	// SendQueueSize is the per-connection outbound queue length
	SendQueueSize = 16
)

// Backend execution
const (
	// DefaultMaxConcurrentBackends bounds simultaneous backend invocations
	DefaultMaxConcurrentBackends = 4
	// DefaultMaxConnections caps open client connections
	DefaultMaxConnections = 64
	// DefaultBackendTimeout is the per-request backend deadline
	DefaultBackendTimeout = 30 * time.Second
	// ProcessWaitDelay is how long to wait for pipes after killing a child
	ProcessWaitDelay = 2 * time.Second
)

// Liveness gate
const (
	// LivenessInterval is the pause between probe rounds
	LivenessInterval = 2 * time.Second
	// LivenessTimeout bounds the blocking gate
	LivenessTimeout = 60 * time.Second
	// LivenessAttempts bounds the cooperative gate
	LivenessAttempts = 30
	// DialTimeout bounds a single TCP probe
	DialTimeout = 1 * time.Second
)

// WebSocket timing
const (
	// WriteWait is the time allowed to write a message to the peer
	WriteWait = 10 * time.Second
	// PongWait is the time allowed to read the next pong message from the peer
	PongWait = 60 * time.Second
	// PingPeriod must be less than PongWait
	PingPeriod = (PongWait * 9) / 10
	// ShutdownTimeout bounds graceful HTTP shutdown
	ShutdownTimeout = 5 * time.Second
)
