// Package discovery advertises and resolves the _uclip._tcp.local. mDNS
// service. It constructs and parses the handful of resource records the
// protocol needs directly with miekg/dns rather than pulling in a full
// mDNS client/cache stack — this package never continuously browses, it
// only answers queries for its own service and issues one-shot queries to
// resolve a peer. The core never depends on this succeeding; a manual
// host:port is an equivalent input.
package discovery

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

const (
	serviceType  = "_uclip._tcp.local."
	mdnsAddr     = "224.0.0.251:5353"
	queryTimeout = 3 * time.Second
)

// Advertiser answers mDNS queries for this device's clipboard service on a
// background goroutine until Close is called.
type Advertiser struct {
	conn       *net.UDPConn
	instance   string
	port       int
	stop       chan struct{}
	done       chan struct{}
}

// Advertise starts responding to PTR/SRV/TXT/A queries for deviceName's
// clipboard service on port. The instance name is deviceName with spaces
// replaced by hyphens, matching the original macOS client's convention.
func Advertise(deviceName string, port int) (*Advertiser, error) {
	group, err := net.ResolveUDPAddr("udp4", mdnsAddr)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve mdns group: %w", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, fmt.Errorf("discovery: join mdns group: %w", err)
	}

	a := &Advertiser{
		conn:     conn,
		instance: strings.ReplaceAll(deviceName, " ", "-"),
		port:     port,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go a.serve()

	logrus.WithFields(logrus.Fields{
		"function": "Advertise",
		"instance": a.instance,
		"port":     port,
	}).Info("advertising mDNS clipboard service")

	return a, nil
}

func (a *Advertiser) serve() {
	defer close(a.done)
	buf := make([]byte, 65536)
	for {
		select {
		case <-a.stop:
			return
		default:
		}

		a.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, src, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}

		var q dns.Msg
		if err := q.Unpack(buf[:n]); err != nil {
			continue
		}
		if !queriesOurService(&q) {
			continue
		}

		resp := a.buildResponse(q.Id)
		out, err := resp.Pack()
		if err != nil {
			continue
		}
		if _, err := a.conn.WriteToUDP(out, src); err != nil {
			logrus.WithFields(logrus.Fields{"function": "Advertiser.serve"}).Warn("failed to send mdns response: ", err)
		}
	}
}

func queriesOurService(q *dns.Msg) bool {
	for _, question := range q.Question {
		if strings.EqualFold(question.Name, serviceType) {
			return true
		}
	}
	return false
}

func (a *Advertiser) buildResponse(id uint16) *dns.Msg {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "uclip-host"
	}
	target := fmt.Sprintf("%s.local.", hostname)
	instanceFQDN := fmt.Sprintf("%s.%s", a.instance, serviceType)

	resp := new(dns.Msg)
	resp.Id = id
	resp.Response = true
	resp.Authoritative = true

	ptr := &dns.PTR{
		Hdr: dns.RR_Header{Name: serviceType, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 120},
		Ptr: instanceFQDN,
	}
	srv := &dns.SRV{
		Hdr:      dns.RR_Header{Name: instanceFQDN, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 120},
		Priority: 0,
		Weight:   0,
		Port:     uint16(a.port),
		Target:   target,
	}
	txt := &dns.TXT{
		Hdr: dns.RR_Header{Name: instanceFQDN, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 120},
		Txt: []string{"version=1"},
	}

	resp.Answer = append(resp.Answer, ptr, srv, txt)

	if addr := localIPv4(); addr != nil {
		aRec := &dns.A{
			Hdr: dns.RR_Header{Name: target, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120},
			A:   addr,
		}
		resp.Extra = append(resp.Extra, aRec)
	}

	return resp
}

// Close stops answering queries and releases the multicast socket.
func (a *Advertiser) Close() error {
	close(a.stop)
	<-a.done
	return a.conn.Close()
}

// Resolved is a discovered peer's network location.
type Resolved struct {
	Host string
	Port int
	Name string
}

// Resolve sends one PTR query for the clipboard service and waits up to
// queryTimeout for a response, returning the first peer found.
func Resolve() (Resolved, error) {
	group, err := net.ResolveUDPAddr("udp4", mdnsAddr)
	if err != nil {
		return Resolved{}, fmt.Errorf("discovery: resolve mdns group: %w", err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return Resolved{}, fmt.Errorf("discovery: open query socket: %w", err)
	}
	defer conn.Close()

	query := new(dns.Msg)
	query.SetQuestion(serviceType, dns.TypePTR)
	out, err := query.Pack()
	if err != nil {
		return Resolved{}, fmt.Errorf("discovery: pack query: %w", err)
	}
	if _, err := conn.WriteToUDP(out, group); err != nil {
		return Resolved{}, fmt.Errorf("discovery: send query: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(queryTimeout))
	buf := make([]byte, 65536)

	var ptrTarget string
	var srvPort int
	var srvTarget string
	var aRecord net.IP

	deadline := time.Now().Add(queryTimeout)
	for time.Now().Before(deadline) {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		var resp dns.Msg
		if err := resp.Unpack(buf[:n]); err != nil {
			continue
		}
		for _, rr := range append(append([]dns.RR{}, resp.Answer...), resp.Extra...) {
			switch rec := rr.(type) {
			case *dns.PTR:
				ptrTarget = rec.Ptr
			case *dns.SRV:
				srvPort = int(rec.Port)
				srvTarget = rec.Target
			case *dns.A:
				aRecord = rec.A
			}
		}
		if ptrTarget != "" && srvPort != 0 {
			break
		}
	}

	if ptrTarget == "" || srvPort == 0 {
		return Resolved{}, fmt.Errorf("discovery: no response within %s", queryTimeout)
	}

	host := srvTarget
	if aRecord != nil {
		host = aRecord.String()
	}

	return Resolved{Host: host, Port: srvPort, Name: strings.TrimSuffix(ptrTarget, "."+serviceType)}, nil
}

func localIPv4() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4
		}
	}
	return nil
}
