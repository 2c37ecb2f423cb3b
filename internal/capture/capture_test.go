// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package capture

import (
	"net"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIPv4TCP(t *testing.T, srcPort, dstPort uint16) gopacket.Packet {
	t.Helper()

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("192.0.2.1").To4(),
		DstIP:    net.ParseIP("192.0.2.2").To4(),
	}
	tcp := layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(&ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp, gopacket.Payload([]byte("x"))))

	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func TestParseExtractsDistinctSrcDstPorts(t *testing.T) {
	pkt := buildIPv4TCP(t, 1234, 443)

	rec, ok := parse(pkt)
	require.True(t, ok)

	assert.Equal(t, uint16(1234), rec.SrcPort)
	assert.Equal(t, uint16(443), rec.DstPort)
	assert.Equal(t, "192.0.2.1", rec.SrcAddr.String())
	assert.Equal(t, "192.0.2.2", rec.DstAddr.String())
}

func TestParseDropsNonIPv4(t *testing.T) {
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:        layers.LinkTypeEthernet,
		Protocol:        layers.EthernetTypeIPv4,
		HwAddressSize:   6,
		ProtAddressSize: 4,
		Operation:       layers.ARPRequest,
		SourceHwAddress: []byte{0, 1, 2, 3, 4, 5},
		SourceProtAddress: []byte{192, 0, 2, 1},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{192, 0, 2, 2},
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, &arp))

	pkt := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)

	_, ok := parse(pkt)
	assert.False(t, ok)
}

func TestParseUsesPacketTimestampWhenPresent(t *testing.T) {
	pkt := buildIPv4TCP(t, 1, 2)
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1234567890, 0), CaptureLength: len(pkt.Data()), Length: len(pkt.Data())}
	pkt2 := gopacket.NewPacket(pkt.Data(), layers.LayerTypeEthernet, gopacket.Default)
	pkt2.Metadata().CaptureInfo = ci

	rec, ok := parse(pkt2)
	require.True(t, ok)
	assert.True(t, rec.Timestamp.Equal(time.Unix(1234567890, 0)))
}
