package state

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")

// segmentPattern is used for ids that become a single address segment
var segmentPattern, _ = regexp.Compile("^[0-9a-z_-]+$")

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func SegmentValidator(s string) error {
	if !segmentPattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid id, must match pattern %s", s, segmentPattern.String())
	}
	if len(s) > 64 {
		return fmt.Errorf("len(\"%s\") = %d > 64 is too long", s, len(s))
	}
	return nil
}

func UrlValidator(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s is not an absolute url", s)
	}
	return nil
}

func PeerConfigValidator(peer *PeerCfg) error {
	if err := SegmentValidator(string(peer.Id)); err != nil {
		return err
	}
	if peer.PubKey.IsZero() {
		return fmt.Errorf("peer %s has no public key", peer.Id)
	}
	if peer.Url != "" {
		if err := UrlValidator(peer.Url); err != nil {
			return fmt.Errorf("peer %s: %w", peer.Id, err)
		}
	}
	return nil
}

func NodeConfigValidator(node *NodeCfg) error {
	err := SegmentValidator(string(node.Id))
	if err != nil {
		return err
	}
	if node.Key == (NodePrivateKey{}) {
		return fmt.Errorf("node.Key is not set")
	}
	if node.Realm != RealmTest && node.Realm != RealmLive {
		return fmt.Errorf("node.Realm must be %s or %s, got '%s'", RealmTest, RealmLive, node.Realm)
	}
	if err := SegmentValidator(node.AllocationScheme); err != nil {
		return fmt.Errorf("node.AllocationScheme: %w", err)
	}
	if node.Url != "" {
		if err := UrlValidator(node.Url); err != nil {
			return err
		}
	}
	if node.LogPath != "" {
		if err := PathValidator(node.LogPath); err != nil {
			return err
		}
	}
	subnets := make([]SubnetId, 0)
	for _, subnet := range node.Subnets {
		if err := SegmentValidator(string(subnet.Id)); err != nil {
			return err
		}
		if slices.Contains(subnets, subnet.Id) {
			return fmt.Errorf("duplicate subnet found: %s", subnet.Id)
		}
		subnets = append(subnets, subnet.Id)
		realm, ok := subnet.Module.Realm()
		if !ok {
			return &UnknownSubnetModuleError{Subnet: subnet.Id, Module: string(subnet.Module)}
		}
		if realm != node.Realm {
			return fmt.Errorf("subnet %s uses module %s which is not available in the %s realm", subnet.Id, subnet.Module, node.Realm)
		}
		for _, peer := range subnet.Peers {
			if err := PeerConfigValidator(&peer); err != nil {
				return err
			}
			if peer.Id == node.Id {
				return fmt.Errorf("subnet %s: node cannot peer with itself", subnet.Id)
			}
			if peer.Url == "" {
				return fmt.Errorf("subnet %s: peer %s has no url", subnet.Id, peer.Id)
			}
		}
	}
	for _, boot := range node.BootstrapNodes {
		if err := PeerConfigValidator(&boot); err != nil {
			return err
		}
		if boot.Url == "" {
			return fmt.Errorf("bootstrap node %s has no url", boot.Id)
		}
	}
	return nil
}
