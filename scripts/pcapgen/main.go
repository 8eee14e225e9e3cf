package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// flow is one generated conversation. Replies go from b to a.
type flow struct {
	a, b         net.IP
	aPort, bPort uint16
	udp          bool
}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	packetCount := flag.Int("c", 1000, "Number of packets to generate")
	flowCount := flag.Int("flows", 50, "Number of distinct conversations")
	hostCount := flag.Int("hosts", 20, "Number of distinct hosts")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	r := rand.New(rand.NewSource(*seed))

	// A small host pool so conversations share endpoints.
	hosts := make([]net.IP, *hostCount)
	for i := range hosts {
		hosts[i] = net.IP{byte(r.Intn(223) + 1), byte(r.Intn(256)), byte(r.Intn(256)), byte(r.Intn(254) + 1)}
	}
	flows := make([]flow, *flowCount)
	for i := range flows {
		a := hosts[r.Intn(len(hosts))]
		b := hosts[r.Intn(len(hosts))]
		flows[i] = flow{
			a:     a,
			b:     b,
			aPort: uint16(r.Intn(65535-1024) + 1024),
			bPort: []uint16{53, 80, 443, 8080}[r.Intn(4)],
			udp:   r.Intn(4) == 0,
		}
	}

	log.Printf("Generating %d packets over %d flows into %s...", *packetCount, len(flows), *outputFile)

	ts := time.Now()
	for i := 0; i < *packetCount; i++ {
		if (i+1)%100000 == 0 {
			log.Printf("Generated %d packets...", i+1)
		}
		fl := flows[r.Intn(len(flows))]
		reply := r.Intn(3) == 0
		ts = ts.Add(time.Duration(r.Intn(2000)) * time.Microsecond)

		data, err := serialize(r, fl, reply)
		if err != nil {
			log.Fatalf("Failed to serialize layers: %v", err)
		}

		// Write packet to file
		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := pcapWriter.WritePacket(ci, data); err != nil {
			log.Fatalf("Failed to write packet: %v", err)
		}
	}

	log.Printf("Successfully generated %d packets into %s.", *packetCount, *outputFile)
}

func serialize(r *rand.Rand, fl flow, reply bool) ([]byte, error) {
	src, dst, sport, dport := fl.a, fl.b, fl.aPort, fl.bPort
	srcMAC := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC := net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
	if reply {
		src, dst, sport, dport = dst, src, dport, sport
		srcMAC, dstMAC = dstMAC, srcMAC
	}

	ethLayer := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipLayer := &layers.IPv4{
		SrcIP:   src,
		DstIP:   dst,
		Version: 4,
		TTL:     64,
	}

	payload := make([]byte, r.Intn(1400)+50)
	r.Read(payload)

	var transport gopacket.SerializableLayer
	if fl.udp {
		ipLayer.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
		udp.SetNetworkLayerForChecksum(ipLayer)
		transport = udp
	} else {
		ipLayer.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(sport),
			DstPort: layers.TCPPort(dport),
			Seq:     r.Uint32(),
			Ack:     r.Uint32(),
			ACK:     true,
			Window:  14600,
		}
		tcp.SetNetworkLayerForChecksum(ipLayer)
		transport = tcp
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ethLayer, ipLayer, transport, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
