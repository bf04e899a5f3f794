package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"chimaera/wiz"
)

// maxFrequency is the highest SPI clock both chip variants accept.
const maxFrequency = 80_000_000

// Validate checks cfg for values the chip or the services cannot use.
func Validate(cfg *Config) error {
	switch cfg.Chip {
	case ChipW5200, ChipW5500:
	default:
		return fmt.Errorf("chip: unknown variant %q", cfg.Chip)
	}

	if cfg.SPI.Frequency == 0 || cfg.SPI.Frequency > maxFrequency {
		return fmt.Errorf("spi: frequency %d Hz out of range", cfg.SPI.Frequency)
	}
	if cfg.SPI.Mode != 0 && cfg.SPI.Mode != 3 {
		return fmt.Errorf("spi: mode %d not supported, use 0 or 3", cfg.SPI.Mode)
	}

	if _, err := ParseMAC(cfg.Network.MAC); err != nil {
		return fmt.Errorf("network.mac: %w", err)
	}
	ip, err := parse4("network.ip", cfg.Network.IP)
	if err != nil {
		return err
	}
	gw, err := parse4("network.gateway", cfg.Network.Gateway)
	if err != nil {
		return err
	}
	mask, err := parse4("network.subnet", cfg.Network.Subnet)
	if err != nil {
		return err
	}
	bits, ok := maskBits(mask)
	if !ok {
		return fmt.Errorf("network.subnet: %s is not a contiguous mask", mask)
	}
	if !gw.IsUnspecified() {
		prefix := netip.PrefixFrom(ip, bits).Masked()
		if !prefix.Contains(gw) {
			return fmt.Errorf("network.gateway: %s outside %s", gw, prefix)
		}
	}

	if err := validateLayout("sockets.tx_kb", cfg.Sockets.TxKB, wiz.TotalTxKB); err != nil {
		return err
	}
	if err := validateLayout("sockets.rx_kb", cfg.Sockets.RxKB, wiz.TotalRxKB); err != nil {
		return err
	}

	ports := map[uint16]string{}
	for _, p := range []struct {
		name string
		port uint16
	}{
		{"ports.config", cfg.Ports.Config},
		{"ports.debug", cfg.Ports.Debug},
		{"ports.output", cfg.Ports.Output},
	} {
		if p.port == 0 {
			return fmt.Errorf("%s: port must be non-zero", p.name)
		}
		if other, dup := ports[p.port]; dup {
			return fmt.Errorf("%s: port %d already used by %s", p.name, p.port, other)
		}
		ports[p.port] = p.name
	}

	if cfg.Debug.Enabled {
		ap, err := netip.ParseAddrPort(cfg.Debug.Host)
		if err != nil {
			return fmt.Errorf("debug.host: %w", err)
		}
		if !ap.Addr().Is4() || ap.Port() == 0 {
			return fmt.Errorf("debug.host: %s is not an IPv4 host:port", ap)
		}
	}
	if _, err := ParseLevel(cfg.Debug.Level); err != nil {
		return fmt.Errorf("debug.level: %w", err)
	}
	return nil
}

func validateLayout(name string, sizes []uint8, total int) error {
	if len(sizes) != wiz.NumSockets {
		return fmt.Errorf("%s: need %d entries, got %d", name, wiz.NumSockets, len(sizes))
	}
	var l [wiz.NumSockets]uint8
	copy(l[:], sizes)
	if !wiz.ValidLayout(l, total) {
		return fmt.Errorf("%s: %v: %w", name, sizes, wiz.ErrLayout)
	}
	return nil
}

func parse4(name, s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return a, fmt.Errorf("%s: %w", name, err)
	}
	if !a.Is4() {
		return a, fmt.Errorf("%s: %s: %w", name, a, wiz.ErrAddress)
	}
	return a, nil
}

// maskBits returns the prefix length of a contiguous IPv4 netmask.
func maskBits(mask netip.Addr) (int, bool) {
	b := mask.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	n := 0
	for v&0x80000000 != 0 {
		v <<= 1
		n++
	}
	return n, v == 0
}

// ParseMAC parses six colon or dash separated hex octets. Multicast
// addresses are rejected.
func ParseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != 6 {
		return mac, fmt.Errorf("%q: need 6 octets", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return mac, fmt.Errorf("%q: bad octet %q", s, p)
		}
		if _, err := hex.Decode(mac[i:i+1], []byte(p)); err != nil {
			return mac, fmt.Errorf("%q: %w", s, err)
		}
	}
	if mac[0]&1 != 0 {
		return mac, fmt.Errorf("%q: multicast address", s)
	}
	return mac, nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}

// Addrs returns the parsed network addresses. cfg must have passed
// Validate.
func (n NetworkConfig) Addrs() (mac [6]byte, ip, gateway, subnet netip.Addr) {
	mac, _ = ParseMAC(n.MAC)
	ip, _ = netip.ParseAddr(n.IP)
	gateway, _ = netip.ParseAddr(n.Gateway)
	subnet, _ = netip.ParseAddr(n.Subnet)
	return
}
