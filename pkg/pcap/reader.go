// Package pcap reads capture files into packet metadata.
package pcap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"NetSpectraTables/internal/engine/protocol"
	"NetSpectraTables/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

// Source is a packet source with a known link type, e.g. a capture file or
// a live capture handle.
type Source interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader reads packets from a capture file or live source.
type Reader struct {
	closer io.Closer
	src    Source
	logger *zap.SugaredLogger
}

// NewReader creates a new pcap reader for the given file path.
func NewReader(filePath string, logger *zap.SugaredLogger) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	src, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture header of %s: %w", filePath, err)
	}
	return NewSourceReader(src, f, logger), nil
}

// NewSourceReader wraps an open source. closer is closed by Close.
func NewSourceReader(src Source, closer io.Closer, logger *zap.SugaredLogger) *Reader {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Reader{closer: closer, src: src, logger: logger}
}

// Close closes the underlying file or handle.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// LinkType returns the link type of the capture.
func (r *Reader) LinkType() layers.LinkType {
	return r.src.LinkType()
}

// ReadPackets reads every packet from the file and sends the parsed
// PacketInfo to out. Relative times are measured from the first packet.
// It returns the number of packets sent. Frames that cannot be parsed are
// logged and skipped.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- *model.PacketInfo) (int, error) {
	packetSource := gopacket.NewPacketSource(r.src, r.src.LinkType())
	packetSource.DecodeOptions = gopacket.Default

	var (
		sent    int
		skipped int
		first   time.Time
	)
	for {
		packet, err := packetSource.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sent, fmt.Errorf("failed to read packet %d: %w", sent+skipped+1, err)
		}

		info, err := protocol.FromPacket(packet)
		if err != nil {
			skipped++
			r.logger.Debugw("skipping packet", "error", err)
			continue
		}
		if first.IsZero() {
			first = info.Timestamp
		}
		info.RelTime = info.Timestamp.Sub(first)

		select {
		case out <- info:
			sent++
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
	r.logger.Infow("finished reading capture", "packets", sent, "skipped", skipped)
	return sent, nil
}
