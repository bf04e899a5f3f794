package core

import (
	"net/netip"

	"chimaera/config"
	"chimaera/osc"
	"chimaera/osc/query"
)

var levels = []query.Value{{S: "debug"}, {S: "info"}, {S: "warn"}, {S: "error"}}

// tree builds the device's query tree. Methods called without arguments
// read the current value, with arguments they set it.
func (s *Service) tree() *query.Item {
	bound := []query.Argument{{
		Type:        osc.Float,
		Description: "normalized value",
		Mode:        query.ModeRW,
		Range:       &query.Range{Min: query.Value{F: 0}, Max: query.Value{F: 1}},
	}}
	return query.Node("/", "chimaera",
		query.Node("info/", "device information",
			query.Method("name", "device name", s.getString(func() string { return s.info.Name }),
				query.Argument{Type: osc.String, Mode: query.ModeR}),
			query.Method("version", "firmware version", s.getString(func() string { return s.info.Version }),
				query.Argument{Type: osc.String, Mode: query.ModeR}),
			query.Method("chip", "ethernet controller", s.chipInfo,
				query.Argument{Type: osc.String, Mode: query.ModeR, Description: "variant"},
				query.Argument{Type: osc.Int32, Mode: query.ModeR, Description: "version register"}),
			query.Method("uptime", "seconds since start", func(c *query.Call) error {
				c.Reply("i", s.uptime())
				return nil
			}, query.Argument{Type: osc.Int32, Mode: query.ModeR}),
			query.Method("link", "ethernet link state", func(c *query.Call) error {
				replyBool(c, s.link)
				return nil
			}, query.Argument{Type: osc.True, Mode: query.ModeR}),
		),
		query.Node("comm/", "network settings, applied on restart",
			s.addrMethod("mac", "hardware address", 17, func(c *config.Config) *string { return &c.Network.MAC }),
			s.addrMethod("ip", "IPv4 address", 15, func(c *config.Config) *string { return &c.Network.IP }),
			s.addrMethod("gateway", "IPv4 gateway", 15, func(c *config.Config) *string { return &c.Network.Gateway }),
			s.addrMethod("subnet", "IPv4 subnet mask", 15, func(c *config.Config) *string { return &c.Network.Subnet }),
		),
		query.Node("sensors/", "sensor array",
			query.Node("group/", "sensor groups",
				query.Node("attributes/", "group attributes",
					query.Array("%i/", "group", NumGroups,
						query.Method("min", "lower bound", s.bound(false), bound...),
						query.Method("max", "upper bound", s.bound(true), bound...),
					),
				),
			),
		),
		query.Node("debug/", "log stream",
			query.Method("enabled", "send /debug messages", s.debugEnabled,
				query.Argument{Type: osc.True, Mode: query.ModeRW}),
			query.Method("level", "minimum level", s.debugLevel,
				query.Argument{Type: osc.String, Mode: query.ModeRW, Values: levels}),
			query.Method("host", "destination ip:port", s.debugHost,
				query.Argument{Type: osc.String, Mode: query.ModeRW, Range: &query.Range{Max: query.Value{I: 21}}}),
		),
	)
}

func replyBool(c *query.Call, v bool) {
	if v {
		c.Reply("T")
	} else {
		c.Reply("F")
	}
}

func (s *Service) getString(get func() string) query.Handler {
	return func(c *query.Call) error {
		c.Reply("s", get())
		return nil
	}
}

func (s *Service) chipInfo(c *query.Call) error {
	c.Reply("si", s.info.Chip, int32(s.info.Revision))
	return nil
}

// addrMethod exposes a textual network setting. Writes are validated
// against the whole configuration.
func (s *Service) addrMethod(name, desc string, maxLen int32, field func(*config.Config) *string) *query.Item {
	return query.Method(name, desc, func(c *query.Call) error {
		if c.Format == "" {
			c.Reply("s", *field(s.cfg))
			return nil
		}
		next := *s.cfg
		*field(&next) = c.Args.GetString()
		return s.changed(&next)
	}, query.Argument{Type: osc.String, Mode: query.ModeRW, Range: &query.Range{Max: query.Value{I: maxLen}}})
}

func (s *Service) bound(upper bool) query.Handler {
	return func(c *query.Call) error {
		g := &s.groups[c.Index]
		v := &g.Min
		if upper {
			v = &g.Max
		}
		if c.Format == "" {
			c.Reply("f", *v)
			return nil
		}
		x := c.Args.GetFloat()
		if (upper && x < g.Min) || (!upper && x > g.Max) {
			return ErrBounds
		}
		*v = x
		return nil
	}
}

func (s *Service) debugEnabled(c *query.Call) error {
	if c.Format == "" {
		replyBool(c, s.cfg.Debug.Enabled)
		return nil
	}
	on := osc.Type(c.Format[0]) == osc.True
	next := *s.cfg
	next.Debug.Enabled = on
	if err := s.changed(&next); err != nil {
		return err
	}
	if s.dbg != nil {
		s.dbg.SetEnabled(on)
	}
	return nil
}

func (s *Service) debugLevel(c *query.Call) error {
	if c.Format == "" {
		c.Reply("s", s.cfg.Debug.Level)
		return nil
	}
	next := *s.cfg
	next.Debug.Level = c.Args.GetString()
	if err := s.changed(&next); err != nil {
		return err
	}
	if s.dbg != nil {
		l, _ := config.ParseLevel(next.Debug.Level)
		s.dbg.SetLevel(l)
	}
	return nil
}

func (s *Service) debugHost(c *query.Call) error {
	if c.Format == "" {
		c.Reply("s", s.cfg.Debug.Host)
		return nil
	}
	host := c.Args.GetString()
	if _, err := netip.ParseAddrPort(host); err != nil {
		return err
	}
	next := *s.cfg
	next.Debug.Host = host
	if err := s.changed(&next); err != nil {
		return err
	}
	return s.setDebugHost(host)
}
