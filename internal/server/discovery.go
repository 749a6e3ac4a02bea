package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	discoveryService = "_esphomelib._tcp"
	discoveryDomain  = "local."
)

// AdvertiseConfig describes the mDNS record of the satellite
type AdvertiseConfig struct {
	Name       string
	Port       int
	MACAddress string
	Version    string
}

// Advertiser publishes the satellite over mDNS so hubs can discover it
type Advertiser struct {
	server *zeroconf.Server
	logger *slog.Logger
}

// TXTRecords returns the TXT entries advertised for cfg
func TXTRecords(cfg AdvertiseConfig) []string {
	txt := []string{
		"version=" + cfg.Version,
		"platform=linux",
		"network=wifi",
	}
	if cfg.MACAddress != "" {
		// hubs expect the bare lowercase hex form
		mac := strings.ToLower(strings.ReplaceAll(cfg.MACAddress, ":", ""))
		txt = append(txt, "mac="+mac)
	}
	return txt
}

// Advertise registers the service record. Shutdown removes it.
func Advertise(cfg AdvertiseConfig, logger *slog.Logger) (*Advertiser, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}

	txt := TXTRecords(cfg)
	server, err := zeroconf.Register(cfg.Name, discoveryService, discoveryDomain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logger.Info("Advertising satellite over mDNS",
		slog.String("name", cfg.Name),
		slog.String("service", discoveryService),
		slog.Int("port", cfg.Port),
		slog.Any("txt", txt))

	return &Advertiser{server: server, logger: logger}, nil
}

// Shutdown withdraws the advertisement
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.logger.Info("mDNS advertisement withdrawn")
}
