package config

import "chimaera/wiz"

// Chip variants
const (
	ChipW5200 = "w5200"
	ChipW5500 = "w5500"
)

// Config is the device configuration.
type Config struct {
	Chip    string        `yaml:"chip"`
	SPI     SPIConfig     `yaml:"spi"`
	Network NetworkConfig `yaml:"network"`
	Sockets SocketsConfig `yaml:"sockets"`
	Retry   RetryConfig   `yaml:"retry"`
	Ports   PortsConfig   `yaml:"ports"`
	Debug   DebugConfig   `yaml:"debug"`
}

// SPIConfig selects the bus clock.
type SPIConfig struct {
	Frequency uint32 `yaml:"frequency"` // Hz
	Mode      uint8  `yaml:"mode"`
}

// NetworkConfig holds the static addressing of the chip. Addresses are
// kept as text so that files stay readable; Validate parses them.
type NetworkConfig struct {
	MAC     string `yaml:"mac"`
	IP      string `yaml:"ip"`
	Gateway string `yaml:"gateway"`
	Subnet  string `yaml:"subnet"`
}

// SocketsConfig is the per socket buffer layout in KB.
type SocketsConfig struct {
	TxKB []uint8 `yaml:"tx_kb"`
	RxKB []uint8 `yaml:"rx_kb"`
}

// RetryConfig sets the chip retransmission parameters.
type RetryConfig struct {
	Time  uint16 `yaml:"time"` // units of 100 µs
	Count uint8  `yaml:"count"`
}

// PortsConfig lists the UDP ports of the device services.
type PortsConfig struct {
	Config uint16 `yaml:"config"`
	Debug  uint16 `yaml:"debug"`
	Output uint16 `yaml:"output"`
}

// DebugConfig controls the /debug log stream.
type DebugConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"` // ip:port the messages are sent to
	Level   string `yaml:"level"`
}

// Default returns the factory configuration.
func Default() *Config {
	cfg := &Config{
		Chip: ChipW5500,
		Network: NetworkConfig{
			MAC:     "02:00:00:00:00:01",
			IP:      "192.168.1.177",
			Gateway: "192.168.1.1",
			Subnet:  "255.255.255.0",
		},
		Debug: DebugConfig{
			Host: "192.168.1.10:6666",
		},
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values with the factory settings.
func applyDefaults(cfg *Config) {
	if cfg.Chip == "" {
		cfg.Chip = ChipW5500
	}
	if cfg.SPI.Frequency == 0 {
		cfg.SPI.Frequency = 24_000_000
	}
	if len(cfg.Sockets.TxKB) == 0 {
		l := wiz.DefaultLayout()
		cfg.Sockets.TxKB = l[:]
	}
	if len(cfg.Sockets.RxKB) == 0 {
		l := wiz.DefaultLayout()
		cfg.Sockets.RxKB = l[:]
	}
	if cfg.Retry.Time == 0 {
		cfg.Retry.Time = 2000 // 200 ms
	}
	if cfg.Retry.Count == 0 {
		cfg.Retry.Count = 8
	}
	if cfg.Ports.Config == 0 {
		cfg.Ports.Config = 4444
	}
	if cfg.Ports.Debug == 0 {
		cfg.Ports.Debug = 6666
	}
	if cfg.Ports.Output == 0 {
		cfg.Ports.Output = 3333
	}
	if cfg.Debug.Level == "" {
		cfg.Debug.Level = "info"
	}
}

// Options converts the socket layout and retry settings for wiz.Chip.Init.
// cfg must have passed Validate.
func (cfg *Config) Options() wiz.Options {
	var opt wiz.Options
	copy(opt.TxSizes[:], cfg.Sockets.TxKB)
	copy(opt.RxSizes[:], cfg.Sockets.RxKB)
	opt.RetryTime = cfg.Retry.Time
	opt.RetryCount = cfg.Retry.Count
	return opt
}

// Addressing returns the chip addressing strategy for cfg.Chip.
func (cfg *Config) Addressing() wiz.Addressing {
	if cfg.Chip == ChipW5200 {
		return wiz.NewW5200()
	}
	return wiz.NewW5500()
}
