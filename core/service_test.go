package core

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"
	"testing"

	"chimaera/config"
	"chimaera/osc"
	"chimaera/wiz"
)

type datagram struct {
	src     netip.AddrPort
	payload []byte
}

// fakeConn is an in-memory datagram endpoint.
type fakeConn struct {
	queue   []datagram
	remotes []netip.AddrPort
	sent    [][]byte
}

func (f *fakeConn) DispatchUDP(buf []byte, fn wiz.UDPHandler) (int, error) {
	n := 0
	for _, d := range f.queue {
		if len(d.payload) > len(buf) {
			continue
		}
		m := copy(buf, d.payload)
		fn(d.src, buf[:m])
		n++
	}
	f.queue = nil
	return n, nil
}

func (f *fakeConn) SetRemote(remote netip.AddrPort) error {
	f.remotes = append(f.remotes, remote)
	return nil
}

func (f *fakeConn) SendBlock(ctx context.Context, buf []byte) error {
	f.sent = append(f.sent, append([]byte(nil), buf...))
	return nil
}

var client = netip.MustParseAddrPort("192.168.1.20:9000")

type testService struct {
	*Service
	cfg   *config.Config
	conf  *fakeConn
	debug *fakeConn
	dbg   *DebugHandler
	log   *slog.Logger
	id    int32
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	ts := &testService{
		cfg:   config.Default(),
		conf:  &fakeConn{},
		debug: &fakeConn{},
		dbg:   NewDebugHandler(slog.LevelInfo),
	}
	ts.log = slog.New(ts.dbg)
	ts.Service = NewService(ts.cfg, Info{Name: "chimaera", Version: "1.0.0", Chip: "w5500", Revision: 4},
		ts.conf, ts.debug, ts.dbg, ts.log)
	if err := ts.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return ts
}

// request sends one config request through Poll and returns the decoded
// reply: path, format and values after id and request path.
func (ts *testService) request(t *testing.T, path, format string, args ...any) (string, string, []any) {
	t.Helper()
	ts.id++
	w := osc.NewWriter(make([]byte, 256))
	if !w.SetVarlist(path, "i"+format, append([]any{ts.id}, args...)...) {
		t.Fatalf("building request: %v", w.Err())
	}
	ts.conf.queue = append(ts.conf.queue, datagram{src: client, payload: w.Bytes()})
	sent := len(ts.conf.sent)
	if err := ts.Poll(context.Background(), 0); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(ts.conf.sent) != sent+1 {
		t.Fatalf("%s: no reply", path)
	}
	reply := ts.conf.sent[sent]
	if !osc.CheckPacket(reply) {
		t.Fatalf("%s: invalid reply % x", path, reply)
	}
	r := osc.NewReader(reply)
	rpath := r.GetPath()
	rformat := r.GetFormat()
	if id := r.GetInt32(); id != ts.id {
		t.Errorf("%s: reply id %d, want %d", path, id, ts.id)
	}
	if p := r.GetString(); p != path {
		t.Errorf("reply path %q, want %q", p, path)
	}
	var values []any
	for _, c := range rformat[3:] {
		values = append(values, r.GetValue(osc.Type(c)))
	}
	return rpath, rformat, values
}

func TestServiceInfo(t *testing.T) {
	ts := newTestService(t)

	path, format, values := ts.request(t, "/info/name", "")
	if path != "/success" || format != ",iss" || values[0] != "chimaera" {
		t.Errorf("name reply = %s %s %v", path, format, values)
	}
	if got := ts.conf.remotes[len(ts.conf.remotes)-1]; got != client {
		t.Errorf("reply sent to %s, want %s", got, client)
	}

	_, format, values = ts.request(t, "/info/chip", "")
	if format != ",issi" || values[0] != "w5500" || values[1] != int32(4) {
		t.Errorf("chip reply = %s %v", format, values)
	}

	path, _, values = ts.request(t, "/info/nothing", "")
	if path != "/error" || values[0] != "unknown path" {
		t.Errorf("unknown path reply = %s %v", path, values)
	}

	path, format, values = ts.request(t, "/info/name!", "")
	if path != "/success" || format != ",iss" || !strings.Contains(values[0].(string), `"description":"device name"`) {
		t.Errorf("describe reply = %s %s %v", path, format, values)
	}
}

func TestServiceBounds(t *testing.T) {
	ts := newTestService(t)

	path, _, _ := ts.request(t, "/sensors/group/attributes/3/min", "f", float32(0.25))
	if path != "/success" {
		t.Fatalf("set min failed")
	}
	if g := ts.Group(3); g.Min != 0.25 || g.Max != 1 {
		t.Errorf("group 3 = %+v", g)
	}
	if g := ts.Group(2); g.Min != 0 {
		t.Errorf("group 2 changed: %+v", g)
	}

	_, _, values := ts.request(t, "/sensors/group/attributes/3/min", "")
	if values[0] != float32(0.25) {
		t.Errorf("get min = %v", values)
	}

	path, _, values = ts.request(t, "/sensors/group/attributes/3/max", "f", float32(0.1))
	if path != "/error" || values[0] != ErrBounds.Error() {
		t.Errorf("inverted bounds reply = %s %v", path, values)
	}
	path, _, values = ts.request(t, "/sensors/group/attributes/3/max", "f", float32(2))
	if path != "/error" || values[0] != "invalid arguments" {
		t.Errorf("out of range reply = %s %v", path, values)
	}
	path, _, _ = ts.request(t, "/sensors/group/attributes/8/max", "f", float32(0.5))
	if path != "/error" {
		t.Errorf("index past array accepted")
	}
}

func TestServiceNetwork(t *testing.T) {
	ts := newTestService(t)
	var changes int
	ts.OnChange = func(*config.Config) { changes++ }

	path, _, values := ts.request(t, "/comm/ip", "s", "10.0.0.5")
	if path != "/error" || !strings.HasPrefix(values[0].(string), "network.gateway") {
		t.Errorf("ip outside gateway subnet = %s %v", path, values)
	}
	if ts.cfg.Network.IP != "192.168.1.177" || changes != 0 {
		t.Errorf("rejected change applied: %s", ts.cfg.Network.IP)
	}

	path, _, _ = ts.request(t, "/comm/ip", "s", "192.168.1.50")
	if path != "/success" || ts.cfg.Network.IP != "192.168.1.50" || changes != 1 {
		t.Errorf("ip change: %s ip=%s changes=%d", path, ts.cfg.Network.IP, changes)
	}

	_, _, values = ts.request(t, "/comm/mac", "")
	if values[0] != "02:00:00:00:00:01" {
		t.Errorf("mac = %v", values)
	}
}

func TestServiceDebugStream(t *testing.T) {
	ts := newTestService(t)
	if len(ts.debug.remotes) != 1 || ts.debug.remotes[0].String() != "192.168.1.10:6666" {
		t.Fatalf("debug remote = %v", ts.debug.remotes)
	}

	ts.log.Info("before")
	path, _, _ := ts.request(t, "/debug/enabled", "T")
	if path != "/success" || !ts.dbg.IsEnabled() || !ts.cfg.Debug.Enabled {
		t.Fatalf("enable failed: %s", path)
	}
	_, format, _ := ts.request(t, "/debug/enabled", "")
	if format != ",issT" {
		t.Errorf("enabled read back as %s", format)
	}

	ts.log.Info("hello", "n", 1)
	if err := ts.Poll(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if len(ts.debug.sent) != 1 {
		t.Fatalf("debug messages = %d", len(ts.debug.sent))
	}
	r := osc.NewReader(ts.debug.sent[0])
	r.GetPath()
	r.GetFormat()
	if s := r.GetString(); !strings.Contains(s, "msg=hello n=1") {
		t.Errorf("debug message = %q", s)
	}

	path, _, values := ts.request(t, "/debug/level", "s", "loud")
	if path != "/error" || values[0] != "invalid arguments" {
		t.Errorf("level outside enumeration = %s %v", path, values)
	}
	ts.request(t, "/debug/level", "s", "error")
	ts.log.Warn("filtered")
	ts.Poll(context.Background(), 2)
	if len(ts.debug.sent) != 1 {
		t.Errorf("warning passed error level")
	}

	ts.request(t, "/debug/host", "s", "192.168.1.11:7000")
	if got := ts.debug.remotes[len(ts.debug.remotes)-1].String(); got != "192.168.1.11:7000" {
		t.Errorf("debug remote = %s", got)
	}
}

func TestServiceMalformed(t *testing.T) {
	ts := newTestService(t)
	ts.conf.queue = append(ts.conf.queue,
		datagram{src: client, payload: []byte{1, 2, 3}},
		datagram{src: client, payload: []byte("/x\x00\x00,s\x00\x00ab\x00\x00")},
	)
	if err := ts.Poll(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if len(ts.conf.sent) != 0 {
		t.Errorf("replied to malformed requests")
	}
	if req, dropped := ts.Stats(); req != 2 || dropped != 2 {
		t.Errorf("stats = %d/%d", req, dropped)
	}
}

func TestServiceLinkTimer(t *testing.T) {
	ts := newTestService(t)
	up := true
	ts.LinkUp = func() (bool, error) { return up, nil }
	if err := ts.Start(0); err != nil {
		t.Fatal(err)
	}

	_, format, _ := ts.request(t, "/info/link", "")
	if format != ",issF" {
		t.Errorf("link before check = %s", format)
	}
	ts.Poll(context.Background(), LinkPeriod)
	_, format, _ = ts.request(t, "/info/link", "")
	if format != ",issT" {
		t.Errorf("link after check = %s", format)
	}
}
