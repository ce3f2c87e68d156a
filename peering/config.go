package peering

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lunfardo314/nodexec/config"
)

type Config struct {
	HostIDPrivateKey ed25519.PrivateKey
	HostPort         int
	NetworkName      string
	// static peers the node seeds from. Key is the multiaddress string
	Seeds           map[string]peer.AddrInfo
	SeedTimeout     time.Duration
	MaxDynamicPeers int
	// AllowLocal disables filtering of local and reserved addresses announced to peers
	AllowLocal bool
}

const defaultSeedTimeout = 30 * time.Second

func MakeConfig(cfg *config.PeeringConfig, networkName string, hostKey ed25519.PrivateKey) (*Config, error) {
	ret := &Config{
		HostIDPrivateKey: hostKey,
		HostPort:         cfg.Port,
		NetworkName:      networkName,
		Seeds:            make(map[string]peer.AddrInfo),
		SeedTimeout:      cfg.SeedTimeout,
		MaxDynamicPeers:  cfg.MaxDynamicPeers,
		AllowLocal:       cfg.AllowLocal,
	}
	for _, s := range cfg.Seeds {
		addrInfo, err := peer.AddrInfoFromString(s)
		if err != nil {
			return nil, fmt.Errorf("wrong seed multiaddress '%s': %w", s, err)
		}
		ret.Seeds[s] = *addrInfo
	}
	if ret.SeedTimeout <= 0 {
		ret.SeedTimeout = defaultSeedTimeout
	}
	if ret.MaxDynamicPeers < 0 {
		ret.MaxDynamicPeers = 0
	}
	return ret, nil
}

func (cfg *Config) isAutopeeringEnabled() bool {
	return cfg.MaxDynamicPeers > 0
}
