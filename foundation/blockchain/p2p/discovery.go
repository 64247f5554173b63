package p2p

import (
	"fmt"
	"net"
	"time"

	"github.com/jpillora/backoff"
	"github.com/miekg/dns"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/peer"
)

// dnsQueryTimeout bounds one seed lookup.
const dnsQueryTimeout = 5 * time.Second

// dialBackoff shapes reconnect attempts per address.
var dialBackoff = backoff.Backoff{
	Min:    2 * time.Second,
	Max:    5 * time.Minute,
	Factor: 2,
	Jitter: true,
}

// discover seeds the address book: configured bootstrap nodes first, then
// DNS seeds. GetAddr exchange fills in the rest once peers connect.
func (n *Network) discover() {
	for _, host := range n.bootstrap {
		if host != "" && host != n.host {
			n.knownPeers.Add(peer.New(host))
		}
	}

	for _, seed := range n.dnsSeeds {
		for _, host := range n.resolveSeed(seed) {
			n.knownPeers.Add(peer.New(host))
		}
	}
}

// resolveSeed queries a DNS seed's A records and turns each address into a
// peer on our own listen port.
func (n *Network) resolveSeed(seed string) []string {
	config, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		return nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(seed), dns.TypeA)

	client := dns.Client{Timeout: dnsQueryTimeout}
	resp, _, err := client.Exchange(m, net.JoinHostPort(config.Servers[0], config.Port))
	if err != nil || resp == nil {
		n.evHandler("p2p: discover: dns seed %s: %s", seed, err)
		return nil
	}

	var hosts []string
	for _, answer := range resp.Answer {
		if a, isA := answer.(*dns.A); isA {
			hosts = append(hosts, net.JoinHostPort(a.A.String(), fmt.Sprintf("%d", n.listenPort)))
		}
	}

	n.evHandler("p2p: discover: dns seed %s: %d hosts", seed, len(hosts))

	return hosts
}

// =============================================================================

// topUpConnections dials known peers until the outbound target is met,
// honoring per-address backoff.
func (n *Network) topUpConnections() {
	outbound := 0
	n.mu.RLock()
	for _, pc := range n.conns {
		if pc.outbound {
			outbound++
		}
	}
	connected := make(map[string]struct{}, len(n.conns))
	for host := range n.conns {
		connected[host] = struct{}{}
	}
	n.mu.RUnlock()

	if outbound >= outboundTarget {
		return
	}

	for _, candidate := range n.knownPeers.Copy() {
		if outbound >= outboundTarget {
			return
		}
		if candidate.Host == n.host {
			continue
		}
		if _, exists := connected[candidate.Host]; exists {
			continue
		}
		if !n.dialAllowed(candidate.Host) {
			continue
		}

		if err := n.Connect(candidate.Host); err != nil {
			n.dialFailed(candidate.Host)
			n.evHandler("p2p: topUp: connect %s: %s", candidate.Host, err)
			continue
		}

		n.dialSucceeded(candidate.Host)
		outbound++
	}
}

// dialAllowed checks the per-address backoff window.
func (n *Network) dialAllowed(host string) bool {
	n.backoffMu.Lock()
	defer n.backoffMu.Unlock()

	next, exists := n.nextDial[host]
	return !exists || time.Now().After(next)
}

// dialFailed pushes the next attempt out on the capped exponential curve.
func (n *Network) dialFailed(host string) {
	n.backoffMu.Lock()
	defer n.backoffMu.Unlock()

	n.attempts[host]++
	n.nextDial[host] = time.Now().Add(dialBackoff.ForAttempt(float64(n.attempts[host])))
}

// dialSucceeded resets the address's backoff.
func (n *Network) dialSucceeded(host string) {
	n.backoffMu.Lock()
	defer n.backoffMu.Unlock()

	delete(n.attempts, host)
	delete(n.nextDial, host)
}
