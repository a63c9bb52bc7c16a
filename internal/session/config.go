package session

import "time"

// ClientConfig configures a Client's timeouts and retry budget.
type ClientConfig struct {
	// PacketSize carries the network.packet_size setting. The Client does
	// not read it: responses are split into multiple DATA packets by the
	// server, according to ServerConfig.PacketSize.
	PacketSize int
	// Timeout is how long each attempt of an exchange waits for a response
	// datagram before the request is sent again.
	Timeout time.Duration
	// MaxRetries is the total attempts per exchange.
	MaxRetries int
	// ClientVersion is advertised in the HANDSHAKE payload.
	ClientVersion string
}

// DefaultClientConfig returns sensible defaults for a Client.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PacketSize:    16 * 1024,
		Timeout:       5 * time.Second,
		MaxRetries:    3,
		ClientVersion: "1.0",
	}
}

// ServerConfig configures a Server's listening address and root directory.
type ServerConfig struct {
	// ListenAddr is the UDP address the server binds to.
	ListenAddr string
	// RootDir is the filesystem root under which repo_path is resolved.
	RootDir string
	// PacketSize bounds a single response fragment's payload size.
	PacketSize int
}

// DefaultServerConfig returns sensible defaults for a Server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: "0.0.0.0:7357",
		RootDir:    ".",
		PacketSize: 16 * 1024,
	}
}
