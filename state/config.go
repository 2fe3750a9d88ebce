package state

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
)

type Realm string

const (
	RealmTest Realm = "test"
	RealmLive Realm = "live"
)

// SubnetModule selects the settlement scheme a subnet runs on
type SubnetModule string

const (
	// StubModule settles in-process with signed amount proofs. It is only available in the test realm.
	StubModule SubnetModule = "stub"
)

// Realm returns the realm a module may be used in
func (m SubnetModule) Realm() (Realm, bool) {
	switch m {
	case StubModule:
		return RealmTest, true
	}
	return "", false
}

// PeerCfg names another node and where to reach it
type PeerCfg struct {
	Id     NodeId
	PubKey NodePublicKey `yaml:"public_key"`
	Url    string
}

type SubnetCfg struct {
	Id     SubnetId
	Module SubnetModule
	// SettlementThreshold is the amount we may owe a peer before settling with it, 0 disables settlement
	SettlementThreshold uint64 `yaml:"settlement_threshold,omitempty"`
	// PeerLimit is the limit mode of the interledger account of each peer
	PeerLimit LimitMode `yaml:"peer_limit,omitempty"`
	Peers     []PeerCfg `yaml:",omitempty"` // nodes we initiate peering with at startup
}

// TimingCfg overrides timing defaults, zero values keep the default
type TimingCfg struct {
	LinkStateRefresh    time.Duration `yaml:"link_state_refresh,omitempty"`
	NodeDiscovery       time.Duration `yaml:"node_discovery,omitempty"`
	NodeListHashPolling time.Duration `yaml:"node_list_hash_polling,omitempty"`
	SettlementCheck     time.Duration `yaml:"settlement_check,omitempty"`
}

// NodeCfg represents local node-level configuration
type NodeCfg struct {
	Id  NodeId
	Key NodePrivateKey
	// Realm decides which subnet modules may be used
	Realm            Realm
	AllocationScheme string      `yaml:"ilp_allocation_scheme"`
	Listen           string      `yaml:"listen,omitempty"` // address the peer endpoint binds to, e.g. 0.0.0.0:8443
	Url              string      `yaml:"url,omitempty"`    // url other nodes use to reach this node
	DataPath         string      `yaml:"data_path,omitempty"`
	LogPath          string      `yaml:"log_path,omitempty"` // if not empty, weft will write to this file
	Subnets          []SubnetCfg `yaml:",omitempty"`
	BootstrapNodes   []PeerCfg   `yaml:"bootstrap_nodes,omitempty"`
	Timing           TimingCfg   `yaml:",omitempty"`
}

func (c *NodeCfg) GetSubnet(id SubnetId) (SubnetCfg, bool) {
	idx := slices.IndexFunc(c.Subnets, func(s SubnetCfg) bool {
		return s.Id == id
	})
	if idx == -1 {
		return SubnetCfg{}, false
	}
	return c.Subnets[idx], true
}

func (c *NodeCfg) SubnetIds() []SubnetId {
	ids := make([]SubnetId, 0, len(c.Subnets))
	for _, s := range c.Subnets {
		ids = append(ids, s.Id)
	}
	return ids
}

// ApplyTiming copies configured overrides into the timing variables
func (c *NodeCfg) ApplyTiming() {
	if c.Timing.LinkStateRefresh > 0 {
		LinkStateRefreshInterval = c.Timing.LinkStateRefresh
	}
	if c.Timing.NodeDiscovery > 0 {
		NodeDiscoveryInterval = c.Timing.NodeDiscovery
	}
	if c.Timing.NodeListHashPolling > 0 {
		NodeListHashPollingInterval = c.Timing.NodeListHashPolling
	}
	if c.Timing.SettlementCheck > 0 {
		SettlementCheckDelay = c.Timing.SettlementCheck
	}
}

func LoadNodeCfg(path string) (*NodeCfg, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &NodeCfg{}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := NodeConfigValidator(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveNodeCfg(path string, cfg *NodeCfg) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
