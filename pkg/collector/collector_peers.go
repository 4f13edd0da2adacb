package collector

import (
	"net"
	"sort"

	"github.com/cirocosta/btc-exporter/pkg/metric"
	"github.com/cirocosta/btc-exporter/pkg/node"
)

var (
	peersDesc = metric.MustNewDescriptor(
		"btc_peers",
		"number of connected peers",
		metric.Gauge, "direction",
	)

	peersSentDesc = metric.MustNewDescriptor(
		"btc_peers_sent_bytes",
		"bytes sent to the currently connected peers",
		metric.Gauge,
	)

	peersReceivedDesc = metric.MustNewDescriptor(
		"btc_peers_received_bytes",
		"bytes received from the currently connected peers",
		metric.Gauge,
	)

	peersPingDesc = metric.MustNewDescriptor(
		"btc_peers_ping_seconds",
		"distribution of the ping time of connected peers",
		metric.Gauge, "quantile",
	)

	peersByCountryDesc = metric.MustNewDescriptor(
		"btc_peers_by_country",
		"number of connected peers per country",
		metric.Gauge, "country",
	)
)

type PeersCollector struct {
	baseGroup

	countryMapper CountryMapper
}

var _ GroupCollector = (*PeersCollector)(nil)

func NewPeersCollector(countryMapper CountryMapper) *PeersCollector {
	if countryMapper == nil {
		countryMapper = defaultCountryMapper
	}

	return &PeersCollector{
		baseGroup: baseGroup{
			name: "peers",
			descs: []*metric.Descriptor{
				peersDesc,
				peersSentDesc,
				peersReceivedDesc,
				peersPingDesc,
				peersByCountryDesc,
			},
			known: map[*metric.Descriptor][][]string{
				peersDesc:     directions,
				peersPingDesc: quantileLabels(defaultQuantiles),
			},
		},
		countryMapper: countryMapper,
	}
}

func (c *PeersCollector) Request(_ map[string]*node.Result) (node.Request, error) {
	return node.Request{
		Group:    c.Name(),
		Method:   "getpeerinfo",
		Response: func() interface{} { return new(node.PeerInfo) },
	}, nil
}

func (c *PeersCollector) Samples(res *node.Result) ([]metric.Sample, error) {
	peers, ok := res.Value.(*node.PeerInfo)
	if !ok {
		return nil, unexpectedType(res.Value)
	}

	s := newSampler(c.Name(), res.Time)

	c.collectPeersCount(s, *peers)
	c.collectTraffic(s, *peers)
	c.collectPing(s, *peers)
	c.collectCountries(s, *peers)

	return s.samples, nil
}

func (c *PeersCollector) collectPeersCount(s *sampler, peers node.PeerInfo) {
	inbound := 0
	for _, peer := range peers {
		if peer.Inbound {
			inbound++
		}
	}

	s.add(peersDesc, float64(inbound), "in")
	s.add(peersDesc, float64(len(peers)-inbound), "out")
}

func (c *PeersCollector) collectTraffic(s *sampler, peers node.PeerInfo) {
	var sent, received uint64
	for _, peer := range peers {
		sent += peer.BytesSent
		received += peer.BytesRecv
	}

	s.add(peersSentDesc, float64(sent))
	s.add(peersReceivedDesc, float64(received))
}

func (c *PeersCollector) collectPing(s *sampler, peers node.PeerInfo) {
	summary := NewSummary()
	for _, peer := range peers {
		if peer.PingTime == nil {
			continue
		}

		summary.Insert(*peer.PingTime)
	}

	for phi, value := range summary.Quantiles() {
		s.add(peersPingDesc, value, formatQuantile(phi))
	}
}

func (c *PeersCollector) collectCountries(s *sampler, peers node.PeerInfo) {
	counters := map[string]float64{}

	for _, peer := range peers {
		counters[c.country(peer.Addr)]++
	}

	countries := make([]string, 0, len(counters))
	for country := range counters {
		countries = append(countries, country)
	}
	sort.Strings(countries)

	for _, country := range countries {
		s.add(peersByCountryDesc, counters[country], country)
	}
}

// country resolves the country of a peer's `host:port` address. Addresses
// that aren't IPs (onion, i2p) or that the mapper can't place end up as
// "unknown".
//
func (c *PeersCollector) country(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "unknown"
	}

	country, err := c.countryMapper(ip)
	if err != nil || country == "" {
		return "unknown"
	}

	return country
}
