// Package core is the device side of the network core: the configuration
// service answering OSC-query requests and the /debug log stream.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"chimaera/config"
	"chimaera/osc/query"
	"chimaera/wiz"
)

// Hardware socket assignment
const (
	SocketOutput = 0
	SocketConfig = 1
	SocketDebug  = 2
)

// NumGroups is the number of sensor groups with configurable bounds.
const NumGroups = 8

// LinkPeriod is the interval of the link state check in microseconds.
const LinkPeriod = 1_000_000

// replyTimeout bounds the wait for SEND_OK of a reply.
const replyTimeout = 50 * time.Millisecond

var (
	// ErrBounds is returned when a group's lower bound would exceed its
	// upper bound.
	ErrBounds = errors.New("lower bound above upper bound")
)

// Conn is the datagram endpoint the service talks through. *wiz.Socket
// implements it.
type Conn interface {
	DispatchUDP(buf []byte, fn wiz.UDPHandler) (int, error)
	SetRemote(remote netip.AddrPort) error
	SendBlock(ctx context.Context, buf []byte) error
}

// Info identifies the device.
type Info struct {
	Name     string
	Version  string
	Chip     string
	Revision uint8
}

// Bounds is the value window of a sensor group.
type Bounds struct {
	Min, Max float32
}

// Service answers configuration requests on the config socket and streams
// /debug messages on the debug socket. It runs entirely from Poll in the
// main loop.
type Service struct {
	cfg    *config.Config
	info   Info
	conf   Conn
	debug  Conn
	dbg    *DebugHandler
	log    *slog.Logger
	root   *query.Item
	resp   *query.Responder
	timers Timers
	groups [NumGroups]Bounds

	now      uint32
	boot     uint32
	link     bool
	requests uint32
	dropped  uint32

	rx    [1024]byte
	reply [1024]byte

	// LinkUp reports the PHY state, nil disables the link check.
	LinkUp func() (bool, error)
	// OnChange is called after a request modified the configuration.
	OnChange func(cfg *config.Config)
}

// NewService creates the service. dbg may be nil when no debug stream is
// wanted, log may be nil.
func NewService(cfg *config.Config, info Info, conf, debug Conn, dbg *DebugHandler, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Service{
		cfg:   cfg,
		info:  info,
		conf:  conf,
		debug: debug,
		dbg:   dbg,
		log:   log,
	}
	for i := range s.groups {
		s.groups[i] = Bounds{Min: 0, Max: 1}
	}
	s.root = s.tree()
	s.resp = query.NewResponder(s.root, s.reply[:], log)
	return s
}

// Root returns the query tree of the device.
func (s *Service) Root() *query.Item { return s.root }

// Group returns the bounds of sensor group i.
func (s *Service) Group(i int) Bounds { return s.groups[i] }

// Start points the debug socket at the configured host and arms the
// periodic tasks. now is the current tick.
func (s *Service) Start(now uint32) error {
	s.now, s.boot = now, now
	if s.dbg != nil {
		s.dbg.SetEnabled(s.cfg.Debug.Enabled)
		if l, err := config.ParseLevel(s.cfg.Debug.Level); err == nil {
			s.dbg.SetLevel(l)
		}
		if err := s.setDebugHost(s.cfg.Debug.Host); err != nil {
			return err
		}
	}
	if s.LinkUp != nil {
		s.timers.Schedule(Every(now+LinkPeriod, LinkPeriod, s.checkLink))
	}
	s.log.Info("core: service started", slog.String("name", s.info.Name),
		slog.Int("config_port", int(s.cfg.Ports.Config)))
	return nil
}

func (s *Service) setDebugHost(host string) error {
	if host == "" || s.debug == nil {
		return nil
	}
	ap, err := netip.ParseAddrPort(host)
	if err != nil {
		return fmt.Errorf("core: debug host: %w", err)
	}
	return s.debug.SetRemote(ap)
}

// Poll answers waiting requests, runs due timers and flushes the debug
// ring. It returns the first socket error.
func (s *Service) Poll(ctx context.Context, now uint32) error {
	s.now = now
	var first error
	if _, err := s.conf.DispatchUDP(s.rx[:], func(src netip.AddrPort, payload []byte) {
		if err := s.serve(ctx, src, payload); err != nil && first == nil {
			first = err
		}
	}); err != nil && first == nil {
		first = err
	}
	s.timers.Dispatch(now)
	if err := s.flushDebug(ctx); err != nil && first == nil {
		first = err
	}
	return first
}

func (s *Service) serve(ctx context.Context, src netip.AddrPort, payload []byte) error {
	s.requests++
	reply, err := s.resp.Handle(payload)
	if err != nil {
		s.dropped++
		s.log.Debug("core: request dropped", slog.String("src", src.String()), slog.Any("err", err))
		return nil
	}
	if err := s.conf.SetRemote(src); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	return s.conf.SendBlock(ctx, reply)
}

// Stats returns the number of requests seen and of requests dropped as
// malformed.
func (s *Service) Stats() (requests, dropped uint32) {
	return s.requests, s.dropped
}

// Handle answers a single request packet without touching the sockets.
func (s *Service) Handle(pkt []byte) ([]byte, error) {
	return s.resp.Handle(pkt)
}

func (s *Service) flushDebug(ctx context.Context) error {
	if s.dbg == nil || s.debug == nil {
		return nil
	}
	_, err := s.dbg.Flush(func(msg []byte) error {
		ctx, cancel := context.WithTimeout(ctx, replyTimeout)
		defer cancel()
		return s.debug.SendBlock(ctx, msg)
	})
	return err
}

func (s *Service) checkLink(now uint32) {
	up, err := s.LinkUp()
	if err != nil {
		s.log.Warn("core: link check failed", slog.Any("err", err))
		return
	}
	if up != s.link {
		s.link = up
		s.log.Info("core: link changed", slog.Bool("up", up))
	}
}

// changed validates next and makes it the active configuration.
func (s *Service) changed(next *config.Config) error {
	if err := config.Validate(next); err != nil {
		return err
	}
	*s.cfg = *next
	if s.OnChange != nil {
		s.OnChange(s.cfg)
	}
	return nil
}

// Bringup resets and programs the chip from cfg and opens the service
// sockets as UDP endpoints.
func Bringup(ctx context.Context, chip *wiz.Chip, cfg *config.Config) error {
	if err := chip.Init(ctx, cfg.Options()); err != nil {
		return err
	}
	mac, ip, gw, mask := cfg.Network.Addrs()
	if err := chip.SetMAC(mac); err != nil {
		return err
	}
	for _, set := range []struct {
		fn   func(netip.Addr) error
		addr netip.Addr
	}{
		{chip.SetIP, ip},
		{chip.SetGateway, gw},
		{chip.SetSubnet, mask},
	} {
		if err := set.fn(set.addr); err != nil {
			return err
		}
	}
	for _, sock := range []struct {
		id   int
		port uint16
	}{
		{SocketOutput, cfg.Ports.Output},
		{SocketConfig, cfg.Ports.Config},
		{SocketDebug, cfg.Ports.Debug},
	} {
		if err := chip.Socket(sock.id).OpenUDP(ctx, sock.port); err != nil {
			return fmt.Errorf("core: socket %d: %w", sock.id, err)
		}
	}
	return nil
}

// uptime returns the seconds since Start.
func (s *Service) uptime() int32 {
	return int32((s.now - s.boot) / 1_000_000)
}

var _ Conn = (*wiz.Socket)(nil)
