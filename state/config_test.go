package state

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNodeCfg() *NodeCfg {
	return &NodeCfg{
		Id:               "alice",
		Key:              GenerateKey(),
		Realm:            RealmTest,
		AllocationScheme: "test",
		Url:              "http://alice.example:8443",
		Subnets: []SubnetCfg{
			{
				Id:                  "main",
				Module:              StubModule,
				SettlementThreshold: 100,
				PeerLimit:           DebitsMustNotExceedCredits,
				Peers: []PeerCfg{
					{Id: "bob", PubKey: GenerateKey().Pubkey(), Url: "http://bob.example:8443"},
				},
			},
		},
	}
}

func TestNodeCfgFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	cfg := testNodeCfg()
	require.NoError(t, SaveNodeCfg(path, cfg))

	loaded, err := LoadNodeCfg(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	sub, ok := loaded.GetSubnet("main")
	require.True(t, ok)
	assert.Equal(t, DebitsMustNotExceedCredits, sub.PeerLimit)
	_, ok = loaded.GetSubnet("other")
	assert.False(t, ok)
	assert.Equal(t, []SubnetId{"main"}, loaded.SubnetIds())
}

func TestNodeCfgYaml(t *testing.T) {
	key := GenerateKey()
	keyText, _ := key.MarshalText()
	peerText, _ := GenerateKey().Pubkey().MarshalText()
	doc := fmt.Sprintf(`
id: alice
key: %s
realm: test
ilp_allocation_scheme: test
subnets:
  - id: main
    module: stub
    peer_limit: credits_must_not_exceed_debits
    peers:
      - id: bob
        public_key: %s
        url: http://bob.example:8443
`, keyText, peerText)
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	cfg, err := LoadNodeCfg(path)
	require.NoError(t, err)
	assert.Equal(t, key, cfg.Key)
	require.Len(t, cfg.Subnets, 1)
	assert.Equal(t, CreditsMustNotExceedDebits, cfg.Subnets[0].PeerLimit)
	assert.Equal(t, "http://bob.example:8443", cfg.Subnets[0].Peers[0].Url)
}

func TestNodeCfgBadLimitMode(t *testing.T) {
	var mode LimitMode
	assert.Error(t, mode.UnmarshalText([]byte("sometimes")))
	assert.NoError(t, mode.UnmarshalText([]byte("no_limit")))
	assert.Equal(t, NoLimit, mode)
}

func TestNodeConfigValidator(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *NodeCfg)
	}{
		{"bad id", func(cfg *NodeCfg) { cfg.Id = "Alice.B" }},
		{"no key", func(cfg *NodeCfg) { cfg.Key = NodePrivateKey{} }},
		{"bad realm", func(cfg *NodeCfg) { cfg.Realm = "prod" }},
		{"bad scheme", func(cfg *NodeCfg) { cfg.AllocationScheme = "g.x" }},
		{"relative url", func(cfg *NodeCfg) { cfg.Url = "alice:8443" }},
		{"duplicate subnet", func(cfg *NodeCfg) { cfg.Subnets = append(cfg.Subnets, cfg.Subnets[0]) }},
		{"stub in live realm", func(cfg *NodeCfg) { cfg.Realm = RealmLive }},
		{"peer without key", func(cfg *NodeCfg) { cfg.Subnets[0].Peers[0].PubKey = NodePublicKey{} }},
		{"peer without url", func(cfg *NodeCfg) { cfg.Subnets[0].Peers[0].Url = "" }},
		{"peer with self", func(cfg *NodeCfg) { cfg.Subnets[0].Peers[0].Id = "alice" }},
		{"bootstrap without url", func(cfg *NodeCfg) {
			cfg.BootstrapNodes = []PeerCfg{{Id: "carol", PubKey: GenerateKey().Pubkey()}}
		}},
	}
	assert.NoError(t, NodeConfigValidator(testNodeCfg()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testNodeCfg()
			tt.modify(cfg)
			assert.Error(t, NodeConfigValidator(cfg))
		})
	}
}

func TestUnknownSubnetModule(t *testing.T) {
	cfg := testNodeCfg()
	cfg.Subnets[0].Module = "lightning"
	var unknown *UnknownSubnetModuleError
	require.ErrorAs(t, NodeConfigValidator(cfg), &unknown)
	assert.Equal(t, SubnetId("main"), unknown.Subnet)
}

func TestApplyTiming(t *testing.T) {
	refresh, discovery := LinkStateRefreshInterval, NodeDiscoveryInterval
	t.Cleanup(func() {
		LinkStateRefreshInterval, NodeDiscoveryInterval = refresh, discovery
	})

	cfg := testNodeCfg()
	cfg.Timing.LinkStateRefresh = time.Second
	cfg.ApplyTiming()
	assert.Equal(t, time.Second, LinkStateRefreshInterval)
	assert.Equal(t, discovery, NodeDiscoveryInterval)
}
