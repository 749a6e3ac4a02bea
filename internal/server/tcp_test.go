package server

import (
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/skypro1111/voice-satellite/internal/config"
)

type chanAttacher chan net.Conn

func (c chanAttacher) Attach(conn net.Conn) { c <- conn }

func TestTCPServerAttachesConnections(t *testing.T) {
	attached := make(chanAttacher, 2)
	srv := NewTCPServer(&config.ServerConfig{Host: "127.0.0.1", Port: 0}, testLogger(), attached)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Stop()

	for i := 0; i < 2; i++ {
		client, err := net.Dial("tcp", srv.Addr().String())
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		defer client.Close()

		select {
		case conn := <-attached:
			conn.Close()
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d was not attached", i)
		}
	}

	stats := srv.GetStatistics()
	if stats.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", stats.Accepted)
	}
	if stats.Address == "" || stats.LastAccepted.IsZero() {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTCPServerStopUnblocksAccept(t *testing.T) {
	srv := NewTCPServer(&config.ServerConfig{Host: "127.0.0.1", Port: 0}, testLogger(), make(chanAttacher))
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
	if stats := srv.GetStatistics(); stats.AcceptErrors != 0 {
		t.Errorf("accept errors = %d after clean stop", stats.AcceptErrors)
	}
}

func TestTCPServerStartError(t *testing.T) {
	srv := NewTCPServer(&config.ServerConfig{Host: "127.0.0.1", Port: -1}, testLogger(), make(chanAttacher))
	err := srv.Start()
	if err == nil {
		srv.Stop()
		t.Fatal("expected listen error")
	}
	if !contains(err.Error(), "failed to listen") {
		t.Errorf("error = %v", err)
	}
}

func TestTXTRecords(t *testing.T) {
	tests := []struct {
		name string
		cfg  AdvertiseConfig
		want []string
	}{
		{
			name: "with mac",
			cfg:  AdvertiseConfig{Name: "kitchen", Port: 6053, MACAddress: "AA:BB:CC:00:11:22", Version: "1.0.0"},
			want: []string{"version=1.0.0", "platform=linux", "network=wifi", "mac=aabbcc001122"},
		},
		{
			name: "without mac",
			cfg:  AdvertiseConfig{Name: "kitchen", Port: 6053, Version: "2.0"},
			want: []string{"version=2.0", "platform=linux", "network=wifi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TXTRecords(tt.cfg); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TXTRecords() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAdvertiseValidation(t *testing.T) {
	tests := []struct {
		name     string
		cfg      AdvertiseConfig
		errorMsg string
	}{
		{name: "missing name", cfg: AdvertiseConfig{Port: 6053}, errorMsg: "service name is required"},
		{name: "bad port", cfg: AdvertiseConfig{Name: "kitchen"}, errorMsg: "invalid port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Advertise(tt.cfg, testLogger())
			if err == nil || !contains(err.Error(), tt.errorMsg) {
				t.Errorf("Advertise() error = %v, want %q", err, tt.errorMsg)
			}
		})
	}
}
