// Package names maps addresses and ports to names that are already known.
// Names come from a hosts file, a services file and the config; nothing is
// looked up on the network.
package names

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/model"

	"go.uber.org/zap"
)

type serviceKey struct {
	port  uint32
	proto string
}

// Resolver answers from fixed name tables. It is read-only after Open and
// safe for concurrent use.
type Resolver struct {
	hosts    map[string]string
	services map[serviceKey]string
}

// Open loads the files named in cfg, then lays the config entries on top.
func Open(cfg config.NamesConfig, logger *zap.SugaredLogger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := &Resolver{
		hosts:    make(map[string]string),
		services: make(map[serviceKey]string),
	}

	if cfg.HostsFile != "" {
		skipped, err := loadFile(cfg.HostsFile, func(f io.Reader) (int, error) { return r.readHosts(f) })
		if err != nil {
			return nil, err
		}
		if skipped > 0 {
			logger.Warnw("skipped malformed hosts lines", "path", cfg.HostsFile, "lines", skipped)
		}
	}
	if cfg.ServicesFile != "" {
		skipped, err := loadFile(cfg.ServicesFile, func(f io.Reader) (int, error) { return r.readServices(f) })
		if err != nil {
			return nil, err
		}
		if skipped > 0 {
			logger.Warnw("skipped malformed services lines", "path", cfg.ServicesFile, "lines", skipped)
		}
	}

	for addr, name := range cfg.Hosts {
		key, ok := hostKey(addr)
		if !ok {
			return nil, fmt.Errorf("%w: names.hosts key %q is neither an IP nor a MAC address", config.ErrInvalidConfig, addr)
		}
		r.hosts[key] = name
	}
	for k, name := range cfg.Services {
		port, proto, err := config.ParseServiceKey(k)
		if err != nil {
			return nil, err
		}
		r.services[serviceKey{port: port, proto: proto}] = name
	}

	logger.Infow("name tables loaded", "hosts", len(r.hosts), "services", len(r.services))
	return r, nil
}

func loadFile(path string, read func(io.Reader) (int, error)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open name table: %w", err)
	}
	defer f.Close()
	skipped, err := read(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return skipped, nil
}

// readHosts parses "address name [alias...]" lines. The first name seen for
// an address wins, as in hosts(5).
func (r *Resolver) readHosts(rd io.Reader) (skipped int, err error) {
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		fields := strings.Fields(stripComment(sc.Text()))
		if len(fields) == 0 {
			continue
		}
		key, ok := hostKey(fields[0])
		if len(fields) < 2 || !ok {
			skipped++
			continue
		}
		if _, seen := r.hosts[key]; !seen {
			r.hosts[key] = fields[1]
		}
	}
	return skipped, sc.Err()
}

// readServices parses "name port/proto [alias...]" lines. Only tcp and udp
// entries are kept.
func (r *Resolver) readServices(rd io.Reader) (skipped int, err error) {
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		fields := strings.Fields(stripComment(sc.Text()))
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			skipped++
			continue
		}
		p, proto, ok := strings.Cut(fields[1], "/")
		n, perr := strconv.ParseUint(p, 10, 16)
		if !ok || perr != nil {
			skipped++
			continue
		}
		proto = strings.ToLower(proto)
		if proto != "tcp" && proto != "udp" {
			continue
		}
		key := serviceKey{port: uint32(n), proto: proto}
		if _, seen := r.services[key]; !seen {
			r.services[key] = fields[0]
		}
	}
	return skipped, sc.Err()
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}

// hostKey normalizes a numeric address to the form Address.String produces.
func hostKey(s string) (string, bool) {
	if ip, err := netip.ParseAddr(s); err == nil {
		if ip.Is4() {
			return ip.String(), true
		}
		return ip.WithZone("").String(), true
	}
	if mac, err := net.ParseMAC(s); err == nil {
		return mac.String(), true
	}
	return "", false
}

// AddressName returns the known name of addr, or its numeric form.
func (r *Resolver) AddressName(addr model.Address) string {
	numeric := addr.String()
	if name, ok := r.hosts[numeric]; ok {
		return name
	}
	return numeric
}

// PortName returns the service name of port for TCP and UDP records, or the
// port number.
func (r *Resolver) PortName(port uint32, et model.EndpointType) string {
	switch et {
	case model.EndpointTCP, model.EndpointUDP:
		if name, ok := r.services[serviceKey{port: port, proto: et.String()}]; ok {
			return name
		}
	}
	return strconv.FormatUint(uint64(port), 10)
}
