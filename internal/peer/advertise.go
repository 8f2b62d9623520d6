package peer

import (
	"context"
	"fmt"
	"net"

	"github.com/pion/stun"
	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
)

// AdvertisedRecord is the directory record other peers dial. The port is
// always the listener's TCP port.
func (n *Node) AdvertisedRecord(ctx context.Context) (directory.PeerRecord, error) {
	tcp, ok := n.transport.LocalAddr().(*net.TCPAddr)
	if !ok {
		return directory.PeerRecord{}, fmt.Errorf("unexpected listener address %s", n.transport.LocalAddr())
	}

	var host string
	switch n.config.AdvertiseHost {
	case "":
		host = listenerHost(tcp)
	case AdvertiseSTUN:
		h, err := DiscoverPublicHost(ctx, n.config.STUNServer)
		if err != nil {
			return directory.PeerRecord{}, err
		}
		host = h
	default:
		host = n.config.AdvertiseHost
	}

	return directory.PeerRecord{
		Username: n.config.Username,
		Address:  host,
		Port:     tcp.Port,
	}, nil
}

// listenerHost picks a reachable host for a listener bound to the
// unspecified address: the first non-loopback IPv4 interface, else loopback.
func listenerHost(addr *net.TCPAddr) string {
	if !addr.IP.IsUnspecified() {
		return addr.IP.String()
	}

	ifaces, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range ifaces {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "127.0.0.1"
}

// DiscoverPublicHost sends one STUN binding request to server and returns
// the reflexive IP it reports.
func DiscoverPublicHost(ctx context.Context, server string) (string, error) {
	c, err := stun.Dial("udp4", server)
	if err != nil {
		return "", fmt.Errorf("dialing stun server %s: %w", server, err)
	}
	defer c.Close()

	type result struct {
		host string
		err  error
	}
	done := make(chan result, 1)

	req := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	err = c.Start(req, func(e stun.Event) {
		if e.Error != nil {
			done <- result{err: e.Error}
			return
		}
		var xor stun.XORMappedAddress
		if err := xor.GetFrom(e.Message); err != nil {
			done <- result{err: err}
			return
		}
		done <- result{host: xor.IP.String()}
	})
	if err != nil {
		return "", fmt.Errorf("stun binding request: %w", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("stun binding request: %w", r.err)
		}
		return r.host, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
