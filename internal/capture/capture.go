// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package capture is the PacketSource adapter (spec §4.1): a lazy,
// non-restartable sequence of parsed IPv4 packet records read from a live
// network interface via gopacket/pcap.
package capture

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"
	"golang.org/x/sys/unix"

	ngfwerrors "grimm.is/ngfw/internal/errors"
)

// PacketRecord is the immutable unit C1 yields. Non-IPv4 packets are never
// represented: they are dropped before a record is constructed.
type PacketRecord struct {
	Timestamp time.Time
	SrcAddr   netip.Addr
	DstAddr   netip.Addr
	Proto     uint8
	SrcPort   uint16
	DstPort   uint16
	Length    int
}

// Source is the C1 contract: a single pull operation producing the next
// packet or io.EOF at end of stream.
type Source interface {
	Next(ctx context.Context) (PacketRecord, error)
	Close() error
	// Dropped reports how many frames have been silently discarded
	// (non-IPv4 or malformed) since the source was opened.
	Dropped() uint64
}

// Config configures a live capture Source.
type Config struct {
	Interface string
	// Filter is a passthrough BPF-style filter expression, applied as-is.
	Filter string
	// Snaplen bounds how much of each frame is captured.
	Snaplen int32
}

// DefaultConfig returns sane capture defaults.
func DefaultConfig() Config {
	return Config{Snaplen: 65535}
}

// LiveSource reads packets from a live interface via pcap.
type LiveSource struct {
	handle  *pcap.Handle
	packets chan gopacket.Packet
	dropped atomic.Uint64
}

// Open starts a live capture on cfg.Interface. It fails with
// errors.KindPermission when the process lacks raw-socket capability and
// errors.KindNotFound when the named interface does not exist.
func Open(cfg Config) (*LiveSource, error) {
	if _, err := findDevice(cfg.Interface); err != nil {
		return nil, err
	}

	handle, err := pcap.OpenLive(cfg.Interface, cfg.Snaplen, true, pcap.BlockForever)
	if err != nil {
		if isPermissionError(err) {
			return nil, ngfwerrors.Wrap(err, ngfwerrors.KindPermission, "insufficient privilege to open interface "+cfg.Interface)
		}
		return nil, ngfwerrors.Wrap(err, ngfwerrors.KindUnavailable, "failed to open interface "+cfg.Interface)
	}

	if cfg.Filter != "" {
		if err := handle.SetBPFFilter(cfg.Filter); err != nil {
			handle.Close()
			return nil, ngfwerrors.Wrap(err, ngfwerrors.KindValidation, "invalid capture filter")
		}
	}

	src := gopacket.NewPacketSource(handle, handle.LinkType())
	return &LiveSource{handle: handle, packets: src.Packets()}, nil
}

func findDevice(name string) (pcap.Interface, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return pcap.Interface{}, ngfwerrors.Wrap(err, ngfwerrors.KindUnavailable, "failed to enumerate interfaces")
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return pcap.Interface{}, ngfwerrors.Errorf(ngfwerrors.KindNotFound, "interface %q not found", name)
}

func isPermissionError(err error) bool {
	return errors.Is(err, unix.EPERM) || strings.Contains(strings.ToLower(err.Error()), "permission denied")
}

// Next blocks until a packet is available, ctx is cancelled, or the
// capture ends. Malformed or non-IPv4 frames are skipped internally with
// the dropped counter incremented; Next never returns them.
func (s *LiveSource) Next(ctx context.Context) (PacketRecord, error) {
	for {
		select {
		case <-ctx.Done():
			return PacketRecord{}, ctx.Err()
		case pkt, ok := <-s.packets:
			if !ok {
				return PacketRecord{}, io.EOF
			}
			rec, ok := parse(pkt)
			if !ok {
				s.dropped.Add(1)
				continue
			}
			return rec, nil
		}
	}
}

// Dropped reports how many frames were silently discarded (non-IPv4 or
// malformed) since the source was opened.
func (s *LiveSource) Dropped() uint64 { return s.dropped.Load() }

// Close releases the underlying pcap handle.
func (s *LiveSource) Close() error {
	s.handle.Close()
	return nil
}

// parse extracts a PacketRecord from a gopacket.Packet, following the
// parsing policy in spec §4.1: only IPv4 carrying TCP, UDP, or other
// (ports = 0). Unlike the reference parser's documented defect, UDP
// destination port is read from the UDP layer's own DstPort field, never
// aliased to the source port.
func parse(pkt gopacket.Packet) (PacketRecord, bool) {
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return PacketRecord{}, false
	}
	ip, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return PacketRecord{}, false
	}
	src, ok1 := netip.AddrFromSlice(ip.SrcIP.To4())
	dst, ok2 := netip.AddrFromSlice(ip.DstIP.To4())
	if !ok1 || !ok2 {
		return PacketRecord{}, false
	}

	var srcPort, dstPort uint16
	if tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		srcPort = uint16(tcp.SrcPort)
		dstPort = uint16(tcp.DstPort)
	} else if udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		srcPort = uint16(udp.SrcPort)
		dstPort = uint16(udp.DstPort)
	}
	// Else: other IP protocol, ports remain 0 per spec §4.1 (ICMP included,
	// per the open question in spec §9 this follows the reference).

	ts := time.Now()
	if md := pkt.Metadata(); md != nil && !md.Timestamp.IsZero() {
		ts = md.Timestamp
	}

	return PacketRecord{
		Timestamp: ts,
		SrcAddr:   src,
		DstAddr:   dst,
		Proto:     uint8(ip.Protocol),
		SrcPort:   srcPort,
		DstPort:   dstPort,
		Length:    max(len(pkt.Data()), 1),
	}, true
}
