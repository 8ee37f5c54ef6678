package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"sort"
	"time"
)

// Beacon packet format:
//
//	[magic (4)][version (1)][addr (6)][channel (1)][data port (2)][name len (1)][name]
const (
	beaconVersion    = 1
	beaconHeaderSize = 15
	maxBeaconName    = 32
)

var beaconMagic = []byte("WPHB")

var errBadBeacon = errors.New("malformed beacon")

// beacon is one node's advertisement as carried on the discovery port.
type beacon struct {
	Addr     Addr
	Channel  uint8
	DataPort uint16
	Name     string
}

// marshal encodes b. Names longer than 32 bytes are truncated, matching the
// SSID limit of the radio.
func (b beacon) marshal() []byte {
	name := b.Name
	if len(name) > maxBeaconName {
		name = name[:maxBeaconName]
	}

	packet := make([]byte, beaconHeaderSize+len(name))
	copy(packet[0:4], beaconMagic)
	packet[4] = beaconVersion
	copy(packet[5:11], b.Addr[:])
	packet[11] = b.Channel
	binary.BigEndian.PutUint16(packet[12:14], b.DataPort)
	packet[14] = byte(len(name))
	copy(packet[beaconHeaderSize:], name)
	return packet
}

func parseBeacon(data []byte) (beacon, error) {
	var b beacon
	if len(data) < beaconHeaderSize || !bytes.Equal(data[0:4], beaconMagic) || data[4] != beaconVersion {
		return b, errBadBeacon
	}
	nameLen := int(data[14])
	if len(data) != beaconHeaderSize+nameLen {
		return b, errBadBeacon
	}

	copy(b.Addr[:], data[5:11])
	b.Channel = data[11]
	b.DataPort = binary.BigEndian.Uint16(data[12:14])
	b.Name = string(data[beaconHeaderSize:])
	return b, nil
}

// heardBeacon is a beacon together with where and when it was heard.
type heardBeacon struct {
	beacon
	data *net.UDPAddr
	seen time.Time
}

// beaconTable tracks the most recent beacon from every node. Callers
// synchronize access.
type beaconTable struct {
	ttl     time.Duration
	entries map[Addr]heardBeacon
	byData  map[string]Addr
}

func newBeaconTable(ttl time.Duration) *beaconTable {
	return &beaconTable{
		ttl:     ttl,
		entries: make(map[Addr]heardBeacon),
		byData:  make(map[string]Addr),
	}
}

// record stores b as heard from src at now. The data endpoint is the
// beacon's source IP combined with its advertised data port.
func (t *beaconTable) record(b beacon, src *net.UDPAddr, now time.Time) {
	if old, ok := t.entries[b.Addr]; ok {
		delete(t.byData, old.data.String())
	}
	data := &net.UDPAddr{IP: src.IP, Port: int(b.DataPort), Zone: src.Zone}
	t.entries[b.Addr] = heardBeacon{beacon: b, data: data, seen: now}
	t.byData[data.String()] = b.Addr
}

// lookup returns the data endpoint of addr if its beacon is still fresh.
func (t *beaconTable) lookup(addr Addr, now time.Time) (*net.UDPAddr, bool) {
	e, ok := t.entries[addr]
	if !ok || now.Sub(e.seen) > t.ttl {
		return nil, false
	}
	return e.data, true
}

// source maps a data endpoint back to the link address that advertised it.
func (t *beaconTable) source(src net.Addr) (Addr, bool) {
	a, ok := t.byData[src.String()]
	return a, ok
}

// fresh returns the data endpoints of every node heard within the TTL.
func (t *beaconTable) fresh(now time.Time) []*net.UDPAddr {
	out := make([]*net.UDPAddr, 0, len(t.entries))
	for _, e := range t.entries {
		if now.Sub(e.seen) <= t.ttl {
			out = append(out, e.data)
		}
	}
	return out
}

// advertisements lists the fresh entries as scan results, sorted by name.
func (t *beaconTable) advertisements(now time.Time) []Advertisement {
	out := make([]Advertisement, 0, len(t.entries))
	for _, e := range t.entries {
		if now.Sub(e.seen) > t.ttl {
			continue
		}
		out = append(out, Advertisement{
			Name:    e.Name,
			BSSID:   e.Addr.String(),
			Channel: e.Channel,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].BSSID < out[j].BSSID
	})
	return out
}

// expire removes entries older than the TTL.
func (t *beaconTable) expire(now time.Time) {
	for a, e := range t.entries {
		if now.Sub(e.seen) > t.ttl {
			delete(t.byData, e.data.String())
			delete(t.entries, a)
		}
	}
}
