package natsbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedConfig configures an in-process NATS server with JetStream.
type EmbeddedConfig struct {
	Host string
	// Port of the client listener; server.RANDOM_PORT picks a free one.
	Port    int
	DataDir string

	MaxMemory    int64
	MaxFileStore int64
}

// DefaultEmbeddedConfig listens on the standard client port and keeps
// JetStream data under ./data/nats.
func DefaultEmbeddedConfig() EmbeddedConfig {
	return EmbeddedConfig{
		Host:         "127.0.0.1",
		Port:         4222,
		DataDir:      "./data/nats",
		MaxMemory:    64 * 1024 * 1024,
		MaxFileStore: 512 * 1024 * 1024,
	}
}

// Embedded is a running in-process NATS server.
type Embedded struct {
	server *server.Server
}

// StartEmbedded starts a JetStream-enabled server and waits until it accepts
// connections.
func StartEmbedded(cfg EmbeddedConfig) (*Embedded, error) {
	opts := &server.Options{
		Host:               cfg.Host,
		Port:               cfg.Port,
		JetStream:          true,
		StoreDir:           cfg.DataDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxFileStore,
		NoSigs:             true,
		NoLog:              true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready for connections")
	}
	return &Embedded{server: ns}, nil
}

// ClientURL returns the URL clients should dial.
func (e *Embedded) ClientURL() string { return e.server.ClientURL() }

// Shutdown stops the server and waits for it to exit.
func (e *Embedded) Shutdown() {
	if e == nil || e.server == nil {
		return
	}
	e.server.Shutdown()
	e.server.WaitForShutdown()
}
