//go:build integration

package integration

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/encodeous/weft/core"
	"github.com/encodeous/weft/mock"
	"github.com/encodeous/weft/state"
)

// VirtualHarness runs several nodes in one process, connected by an in-memory network
type VirtualHarness struct {
	Cfgs   []state.NodeCfg
	Net    *mock.Network
	states []*state.State

	// Threshold is the settlement threshold of subnet main on every node
	Threshold uint64
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// State returns the state of a started node, or nil if it has not started yet
func (v *VirtualHarness) State(id state.NodeId) *state.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := v.IndexOf(id)
	if idx < 0 || idx >= len(v.states) {
		return nil
	}
	return v.states[idx]
}

func (v *VirtualHarness) setState(idx int, s *state.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states[idx] = s
}

func (v *VirtualHarness) IndexOf(id state.NodeId) int {
	return slices.IndexFunc(v.Cfgs, func(cfg state.NodeCfg) bool {
		return cfg.Id == id
	})
}

func (v *VirtualHarness) NewNode(id state.NodeId) {
	v.Cfgs = append(v.Cfgs, state.NodeCfg{
		Id:               id,
		Key:              state.GenerateKey(),
		Realm:            state.RealmTest,
		AllocationScheme: "test",
		Url:              mock.Url(id),
		Subnets: []state.SubnetCfg{
			{Id: "main", Module: state.StubModule, SettlementThreshold: v.Threshold},
		},
	})
}

func (v *VirtualHarness) peerCfg(id state.NodeId) state.PeerCfg {
	cfg := v.Cfgs[v.IndexOf(id)]
	return state.PeerCfg{Id: id, PubKey: cfg.Key.Pubkey(), Url: cfg.Url}
}

// Peer configures from to initiate peering with to
func (v *VirtualHarness) Peer(from, to state.NodeId) {
	sub := &v.Cfgs[v.IndexOf(from)].Subnets[0]
	sub.Peers = append(sub.Peers, v.peerCfg(to))
}

// Line peers every node with the next one
func (v *VirtualHarness) Line(nodes ...state.NodeId) {
	for i := 0; i+1 < len(nodes); i++ {
		v.Peer(nodes[i], nodes[i+1])
	}
}

func (v *VirtualHarness) Bootstrap(node, via state.NodeId) {
	cfg := &v.Cfgs[v.IndexOf(node)]
	cfg.BootstrapNodes = append(cfg.BootstrapNodes, v.peerCfg(via))
}

func (v *VirtualHarness) Start() chan error {
	v.Net = mock.NewNetwork()
	v.mu.Lock()
	v.states = make([]*state.State, len(v.Cfgs))
	v.mu.Unlock()
	errChan := make(chan error, 128)
	for idx, cfg := range v.Cfgs {
		if err := state.NodeConfigValidator(&cfg); err != nil {
			errChan <- err
			return errChan
		}
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			if err := core.Start(cfg, slog.LevelDebug, v.Net.Transport(cfg.Id), func(s *state.State) {
				v.setState(idx, s)
			}); err != nil {
				errChan <- fmt.Errorf("%s: %w", cfg.Id, err)
			}
		}()
	}
	// wait for all nodes to start
	deadline := time.After(5 * time.Second)
	for {
		started := true
		for _, cfg := range v.Cfgs {
			if s := v.State(cfg.Id); s == nil || !s.Started.Load() {
				started = false
				break
			}
		}
		if started {
			return errChan
		}
		select {
		case <-deadline:
			errChan <- errors.New("timed out waiting for nodes to start")
			return errChan
		case <-time.After(time.Millisecond * 50):
		case err := <-errChan:
			errChan <- err
			return errChan
		}
	}
}

func (v *VirtualHarness) Stop() {
	for _, cfg := range v.Cfgs {
		if s := v.State(cfg.Id); s != nil {
			core.Stop(s)
		}
	}
	v.wg.Wait()
}

// Do runs fn on the main loop of a node
func (v *VirtualHarness) Do(id state.NodeId, fn func(s *state.State) (any, error)) (any, error) {
	s := v.State(id)
	if s == nil {
		return nil, fmt.Errorf("%s is not running", id)
	}
	return s.DispatchWait(fn)
}

// Eventually polls cond on the main loop of a node until it holds or the timeout passes
func (v *VirtualHarness) Eventually(id state.NodeId, timeout time.Duration, cond func(s *state.State) bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res, err := v.Do(id, func(s *state.State) (any, error) {
			return cond(s), nil
		})
		if err != nil {
			return false
		}
		if res.(bool) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}
