package mpd_test

import (
	"errors"
	"testing"

	"github.com/edumarques81/stellar-playback/internal/infra/mpd"
)

// unusedPort has no MPD listening on it.
const unusedPort = 16600

func TestNewClient(t *testing.T) {
	client := mpd.NewClient("localhost", 6600, "")

	if client == nil {
		t.Fatal("NewClient should return a non-nil client")
	}
	if client.Addr() != "localhost:6600" {
		t.Errorf("unexpected addr %q", client.Addr())
	}
}

func TestClientConnectFailure(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")

	err := client.Connect()
	if err == nil {
		t.Error("Connect should fail for non-existent server")
		client.Close()
	}
}

func TestClientPingWithoutConnect(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")

	if err := client.Ping(); !errors.Is(err, mpd.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClientCommandsWithoutServer(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")

	tests := []struct {
		name string
		fn   func() error
	}{
		{"PlayURL", func() error { return client.PlayURL("http://example.com/a.mp3") }},
		{"Pause", func() error { return client.Pause(true) }},
		{"Stop", func() error { return client.Stop() }},
		{"Restart", func() error { return client.Restart() }},
		{"SetVolume", func() error { return client.SetVolume(50) }},
		{"Status", func() error { _, err := client.Status(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err == nil {
				t.Errorf("%s should fail without a server", tt.name)
			}
		})
	}
}

func TestClientCloseWithoutConnect(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")

	if err := client.Close(); err != nil {
		t.Errorf("Close on unconnected client should succeed, got %v", err)
	}
}
