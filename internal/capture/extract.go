// Package capture turns pcap and pcapng captures into tabular shards that the
// ingestion stage understands. It replaces the external tshark field export.
package capture

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/miradorstack/mirador-botnet/internal/config"
)

// ShardHeader is the column layout of extracted shards.
var ShardHeader = []string{"frame.time_epoch", "ip.src", "ip.dst", "ip.proto", "frame.len", "frame.time_delta"}

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Options controls which packets become shard rows.
type Options struct {
	MinFrameLength int
	SampleRate     int
	// C2Address, when valid, keeps only packets to or from that endpoint.
	C2Address netip.Addr
}

// OptionsFromConfig validates the capture section.
func OptionsFromConfig(cfg config.CaptureConfig) (Options, error) {
	opts := Options{MinFrameLength: cfg.MinFrameLength, SampleRate: cfg.SampleRate}
	if opts.SampleRate < 1 {
		opts.SampleRate = 1
	}
	if c2 := strings.TrimSpace(cfg.C2Address); c2 != "" {
		addr, err := netip.ParseAddr(c2)
		if err != nil {
			return Options{}, fmt.Errorf("invalid c2 address %q: %w", c2, err)
		}
		opts.C2Address = addr.Unmap()
	}
	return opts, nil
}

// Stats counts packets seen during one extraction.
type Stats struct {
	Frames     int
	NonIPv4    int
	TooShort   int
	OffTarget  int
	SampledOut int
	Rows       int
}

// Extractor decodes captures with gopacket.
type Extractor struct {
	opts   Options
	logger *slog.Logger
}

// NewExtractor constructs an Extractor.
func NewExtractor(opts Options, logger *slog.Logger) *Extractor {
	if opts.SampleRate < 1 {
		opts.SampleRate = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{opts: opts, logger: logger}
}

// ExtractFile writes <outDir>/<capture name>.csv.gz and returns its path.
func (e *Extractor) ExtractFile(ctx context.Context, pcapPath, outDir string) (string, Stats, error) {
	in, err := os.Open(pcapPath)
	if err != nil {
		return "", Stats{}, fmt.Errorf("open capture: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", Stats{}, fmt.Errorf("create shard dir: %w", err)
	}
	base := filepath.Base(pcapPath)
	base = strings.TrimSuffix(strings.TrimSuffix(base, ".pcapng"), ".pcap")
	outPath := filepath.Join(outDir, base+".csv.gz")

	out, err := os.Create(outPath)
	if err != nil {
		return "", Stats{}, fmt.Errorf("create shard: %w", err)
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	stats, err := e.Extract(ctx, in, zw)
	if err != nil {
		return "", stats, err
	}
	if err := zw.Close(); err != nil {
		return "", stats, fmt.Errorf("flush shard: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", stats, fmt.Errorf("close shard: %w", err)
	}
	e.logger.Info("capture extracted",
		slog.String("capture", pcapPath),
		slog.String("shard", outPath),
		slog.Int("frames", stats.Frames),
		slog.Int("rows", stats.Rows),
	)
	return outPath, stats, nil
}

// Extract streams packets from r and writes shard rows to w.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, w io.Writer) (Stats, error) {
	src, err := packetSource(r)
	if err != nil {
		return Stats{}, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ShardHeader); err != nil {
		return Stats{}, fmt.Errorf("write header: %w", err)
	}

	var (
		stats    Stats
		prev     time.Time
		eligible int
	)
	for {
		if stats.Frames%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
		packet, err := src.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			e.logger.Warn("capture truncated, stopping early", slog.Int("frames", stats.Frames))
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read packet %d: %w", stats.Frames+1, err)
		}

		info := packet.Metadata().CaptureInfo
		var delta time.Duration
		if stats.Frames > 0 {
			delta = info.Timestamp.Sub(prev)
		}
		prev = info.Timestamp
		stats.Frames++

		ip, ok := packet.NetworkLayer().(*layers.IPv4)
		if !ok || (ip.Protocol != layers.IPProtocolTCP && ip.Protocol != layers.IPProtocolUDP) {
			stats.NonIPv4++
			continue
		}
		if info.Length < e.opts.MinFrameLength {
			stats.TooShort++
			continue
		}
		srcAddr, _ := netip.AddrFromSlice(ip.SrcIP.To4())
		dstAddr, _ := netip.AddrFromSlice(ip.DstIP.To4())
		if e.opts.C2Address.IsValid() && srcAddr != e.opts.C2Address && dstAddr != e.opts.C2Address {
			stats.OffTarget++
			continue
		}
		keep := eligible%e.opts.SampleRate == 0
		eligible++
		if !keep {
			stats.SampledOut++
			continue
		}

		row := []string{
			formatEpoch(info.Timestamp),
			srcAddr.String(),
			dstAddr.String(),
			strconv.Itoa(int(ip.Protocol)),
			strconv.Itoa(info.Length),
			strconv.FormatFloat(delta.Seconds(), 'f', 9, 64),
		}
		if err := cw.Write(row); err != nil {
			return stats, fmt.Errorf("write row: %w", err)
		}
		stats.Rows++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, fmt.Errorf("flush rows: %w", err)
	}
	return stats, nil
}

// packetSource sniffs the block magic to pick the pcap or pcapng reader.
func packetSource(r io.Reader) (*gopacket.PacketSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	var src *gopacket.PacketSource
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		src = gopacket.NewPacketSource(ng, ng.LinkType())
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open pcap: %w", err)
		}
		src = gopacket.NewPacketSource(pr, pr.LinkType())
	}
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	return src, nil
}

func formatEpoch(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}
