package bridge

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/fsr_bridge_go/internal/profile"
	"github.com/linjuya-lu/fsr_bridge_go/internal/registry"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testSensors = `# port, pin, button, group, label
P1, 0, 1, 0, left
P1, 1, 2, 0, down
P2, 2, 3, 1, up
P2, 3, 4, 1, right
`

const testProfiles = "alpha,400,410,420,430\nbeta,-1,-1,-1,-1\n"

type fakeLink struct {
	name string

	mu   sync.Mutex
	sent []string
	dead bool
}

func (l *fakeLink) Name() string { return l.name }

func (l *fakeLink) Send(frame []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dead {
		l.sent = append(l.sent, string(frame))
	}
}

func (l *fakeLink) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.dead
}

func (l *fakeLink) frames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sent...)
}

func (l *fakeLink) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = nil
}

type fakeMirror struct {
	mu       sync.Mutex
	payloads []string
}

func (m *fakeMirror) Publish(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, string(payload))
}

func (m *fakeMirror) published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.payloads...)
}

type testBridge struct {
	hub          *Hub
	p1, p2       *fakeLink
	profilesPath string
}

func newTestBridge(t *testing.T, configure ...func(*Options)) *testBridge {
	t.Helper()
	lc := logger.NewMockClient()

	reg, err := registry.Load(strings.NewReader(testSensors))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	path := filepath.Join(t.TempDir(), "profiles.txt")
	if err := os.WriteFile(path, []byte(testProfiles), 0o644); err != nil {
		t.Fatal(err)
	}

	tb := &testBridge{
		p1:           &fakeLink{name: "P1"},
		p2:           &fakeLink{name: "P2"},
		profilesPath: path,
	}
	opts := Options{
		Registry:     reg,
		Profiles:     profile.LoadFile(path, reg.Len(), lc),
		ProfilesPath: path,
		Links:        []Link{tb.p1, tb.p2},
		PollInterval: time.Hour,
		Logger:       lc,
	}
	for _, c := range configure {
		c(&opts)
	}
	tb.hub = NewHub(opts)
	return tb
}

func (tb *testBridge) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go tb.hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-tb.hub.Done()
	})
}

func (tb *testBridge) connect(t *testing.T) *Client {
	t.Helper()
	c, err := tb.hub.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	recv(t, c) // snapshot
	return c
}

func (tb *testBridge) send(t *testing.T, msg string) {
	t.Helper()
	if err := tb.hub.Receive(context.Background(), "test", []byte(msg)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
}

func recv(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case msg, ok := <-c.Outbound():
		if !ok {
			t.Fatal("client queue closed")
		}
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return ""
}

func TestPrime(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	tb.connect(t)

	if got, want := tb.p1.frames(), []string{"c0112\n", "0400\n", "1410\n", "t\n"}; !reflect.DeepEqual(got, want) {
		t.Errorf("P1: got %q, want %q", got, want)
	}
	if got, want := tb.p2.frames(), []string{"c2334\n", "0420\n", "1430\n", "t\n"}; !reflect.DeepEqual(got, want) {
		t.Errorf("P2: got %q, want %q", got, want)
	}
}

func TestPrimeSkipsDeadLinks(t *testing.T) {
	tb := newTestBridge(t)
	tb.p2.dead = true
	tb.run(t)
	tb.connect(t)

	if got := tb.p2.frames(); len(got) != 0 {
		t.Errorf("dead link received %q", got)
	}
	if got := len(tb.p1.frames()); got != 4 {
		t.Errorf("P1 received %d frames, want 4", got)
	}
}

func TestSnapshot(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)

	c, err := tb.hub.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"sensors":[{"group":0,"label":"left"},{"group":0,"label":"down"},{"group":1,"label":"up"},{"group":1,"label":"right"}],` +
		`"thresholds":{"0":400,"1":410,"2":420,"3":430},` +
		`"profiles":[{"name":"alpha","groups":[0,1]},{"name":"beta","groups":[]}],` +
		`"activeProfile":"alpha","secondaryProfile":null}`
	if got := recv(t, c); got != want {
		t.Errorf("snapshot:\n got %s\nwant %s", got, want)
	}
}

func TestValuesBroadcast(t *testing.T) {
	tests := []struct {
		name  string
		port  string
		frame string
		want  string
	}{
		{"single axis doubled", "P2", "v100 200", `{"values":{"2":[100,100],"3":[200,200]}}`},
		{"pairs", "P2", "v1 2 3 4", `{"values":{"2":[1,2],"3":[3,4]}}`},
		{"first port", "P1", "v7 8", `{"values":{"0":[7,7],"1":[8,8]}}`},
	}

	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb.hub.HandleFrame(tt.port, []byte(tt.frame))
			if got := recv(t, c); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBadFramesNotBroadcast(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)

	for _, f := range []struct{ port, frame string }{
		{"P2", "v1 2 3"},
		{"P2", "v1 x"},
		{"P2", "q"},
		{"P9", "v1 2"},
		{"P1", "t500 500"},
	} {
		tb.hub.HandleFrame(f.port, []byte(f.frame))
	}
	tb.hub.HandleFrame("P1", []byte("v5 6"))

	if got, want := recv(t, c), `{"values":{"0":[5,5],"1":[6,6]}}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if got := testutil.ToFloat64(tb.hub.Metrics().malformedFrames.WithLabelValues("P2")); got != 3 {
		t.Errorf("malformed P2 frames: got %v, want 3", got)
	}
}

func TestUnknownPortFramesNotCounted(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)

	tb.hub.HandleFrame("P9", []byte("v1 2"))
	tb.hub.HandleFrame("P1", []byte("v5 6"))
	recv(t, c)

	m := tb.hub.Metrics()
	if got := testutil.ToFloat64(m.framesReceived.WithLabelValues("P9", "values")); got != 0 {
		t.Errorf("unknown port frames counted: %v", got)
	}
	if got := testutil.ToFloat64(m.framesReceived.WithLabelValues("P1", "values")); got != 1 {
		t.Errorf("P1 frames: got %v, want 1", got)
	}
}

func TestSetThreshold(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)
	tb.p2.reset()

	tb.send(t, `{"setThreshold":{"id":3,"threshold":600}}`)

	if got, want := recv(t, c), `{"thresholds":{"3":600}}`; got != want {
		t.Errorf("broadcast: got %s, want %s", got, want)
	}
	if got, want := tb.p2.frames(), []string{"1600\n"}; !reflect.DeepEqual(got, want) {
		t.Errorf("P2 frames: got %q, want %q", got, want)
	}
	data, err := os.ReadFile(tb.profilesPath)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "alpha,400,410,420,600\nbeta,-1,-1,-1,-1\n"; got != want {
		t.Errorf("profiles file: got %q, want %q", got, want)
	}
}

func TestSetThresholdWithoutOwnerIgnored(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)

	tb.send(t, `{"setActiveProfile":"beta"}`)
	recv(t, c)
	tb.p1.reset()

	tb.send(t, `{"setThreshold":{"id":0,"threshold":600}}`)
	tb.hub.HandleFrame("P1", []byte("v1 1"))

	if got, want := recv(t, c), `{"values":{"0":[1,1],"1":[1,1]}}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if got := tb.p1.frames(); len(got) != 0 {
		t.Errorf("rejected threshold reached the device: %q", got)
	}
}

func TestChangeThreshold(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)

	tb.send(t, `{"changeThreshold":{"id":1,"delta":15}}`)
	if got, want := recv(t, c), `{"thresholds":{"1":425}}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	tb.send(t, `{"changeThreshold":{"id":0,"delta":-1000}}`)
	if got, want := recv(t, c), `{"thresholds":{"0":0}}`; got != want {
		t.Errorf("clamped: got %s, want %s", got, want)
	}
}

func TestSetActiveProfileIdempotent(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)
	tb.p1.reset()

	tb.send(t, `{"setActiveProfile":"beta"}`)
	first := recv(t, c)
	firstFrames := tb.p1.frames()
	tb.p1.reset()

	tb.send(t, `{"setActiveProfile":"beta"}`)
	second := recv(t, c)

	want := `{"thresholds":{"0":-1,"1":-1,"2":-1,"3":-1},"activeProfile":"beta"}`
	if first != want || second != want {
		t.Errorf("payloads:\n first %s\nsecond %s\n  want %s", first, second, want)
	}
	if got, want := firstFrames, []string{"01024\n", "11024\n"}; !reflect.DeepEqual(got, want) {
		t.Errorf("unset thresholds: got %q, want %q", got, want)
	}
	if got := tb.p1.frames(); !reflect.DeepEqual(got, firstFrames) {
		t.Errorf("device frames differ: %q vs %q", got, firstFrames)
	}
}

func TestSetActiveProfileCreates(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)

	tb.send(t, `{"setActiveProfile":"gamma"}`)
	want := `{"thresholds":{"0":500,"1":500,"2":500,"3":500},"activeProfile":"gamma"}`
	if got := recv(t, c); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	data, err := os.ReadFile(tb.profilesPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "gamma,500,500,500,500\n") {
		t.Errorf("new profile not persisted: %q", data)
	}
}

func TestProfileNamesSurviveReload(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)

	for _, msg := range []string{
		`{"setActiveProfile":"a,b"}`,
		`{"setActiveProfile":"x\ny,1"}`,
		`{"setActiveProfile":" x"}`,
	} {
		tb.send(t, msg)
	}
	tb.send(t, `{"setActiveProfile":"left pad #2"}`)
	want := `{"thresholds":{"0":500,"1":500,"2":500,"3":500},"activeProfile":"left pad #2"}`
	if got := recv(t, c); got != want {
		t.Fatalf("got %s, want %s", got, want)
	}

	reloaded := profile.LoadFile(tb.profilesPath, 4, logger.NewMockClient())
	if got, want := reloaded.Names(), []string{"alpha", "beta", "left pad #2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("reloaded names: got %q, want %q", got, want)
	}
}

func TestSetSecondaryProfile(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)

	tb.send(t, `{"setActiveProfile":"beta"}`)
	recv(t, c)

	tb.send(t, `{"setSecondaryProfile":"alpha"}`)
	want := `{"thresholds":{"0":400,"1":410,"2":420,"3":430},"secondaryProfile":"alpha"}`
	if got := recv(t, c); got != want {
		t.Errorf("compatible: got %s, want %s", got, want)
	}

	tb.send(t, `{"setSecondaryProfile":null}`)
	want = `{"thresholds":{"0":-1,"1":-1,"2":-1,"3":-1},"secondaryProfile":null}`
	if got := recv(t, c); got != want {
		t.Errorf("cleared: got %s, want %s", got, want)
	}

	tb.send(t, `{"setActiveProfile":"alpha"}`)
	recv(t, c)
	tb.send(t, `{"setSecondaryProfile":"alpha"}`)
	want = `{"thresholds":{"0":400,"1":410,"2":420,"3":430},"secondaryProfile":null}`
	if got := recv(t, c); got != want {
		t.Errorf("incompatible: got %s, want %s", got, want)
	}

	tb.send(t, `{"setSecondaryProfile":"missing"}`)
	if got := recv(t, c); got != want {
		t.Errorf("unknown: got %s, want %s", got, want)
	}
}

func TestSecondaryOwnsUnsetSlots(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)

	tb.send(t, `{"setActiveProfile":"beta"}`)
	recv(t, c)
	tb.send(t, `{"setSecondaryProfile":"alpha"}`)
	recv(t, c)

	tb.send(t, `{"setThreshold":{"id":2,"threshold":321}}`)
	if got, want := recv(t, c), `{"thresholds":{"2":321}}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	data, err := os.ReadFile(tb.profilesPath)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "alpha,400,410,321,430\nbeta,-1,-1,-1,-1\n"; got != want {
		t.Errorf("profiles file: got %q, want %q", got, want)
	}
}

func TestMalformedMessageIgnored(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)

	for _, msg := range []string{
		`not json`,
		`{"bogus":1}`,
		`{"setThreshold":{"id":99,"threshold":1}}`,
	} {
		tb.send(t, msg)
	}
	tb.send(t, `{"setThreshold":{"id":0,"threshold":1}}`)

	if got, want := recv(t, c), `{"thresholds":{"0":1}}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestSlowClientIsolated(t *testing.T) {
	tb := newTestBridge(t, func(o *Options) { o.ClientQueueSize = 2 })
	tb.run(t)

	slow, err := tb.hub.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fast := tb.connect(t)

	for i := 0; i < 5; i++ {
		tb.hub.HandleFrame("P1", []byte("v1 2"))
		recv(t, fast)
	}

	if got := testutil.ToFloat64(tb.hub.Metrics().droppedMessages); got < 1 {
		t.Errorf("expected drops for the slow client, got %v", got)
	}
	if got := len(slow.Outbound()); got != 2 {
		t.Errorf("slow client queue: got %d, want 2", got)
	}
}

func TestPollLiveLinksOnly(t *testing.T) {
	tb := newTestBridge(t, func(o *Options) { o.PollInterval = 5 * time.Millisecond })
	tb.p2.dead = true
	tb.run(t)

	deadline := time.Now().Add(2 * time.Second)
	for {
		polled := 0
		for _, f := range tb.p1.frames() {
			if f == "v\n" {
				polled++
			}
		}
		if polled >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for polls")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := tb.p2.frames(); len(got) != 0 {
		t.Errorf("dead link polled: %q", got)
	}
}

func TestMirror(t *testing.T) {
	tb := newTestBridge(t)
	m := &fakeMirror{}
	tb.hub.AddMirror(m)
	tb.run(t)

	tb.hub.HandleFrame("P1", []byte("v1 2"))
	tb.send(t, `{"setThreshold":{"id":0,"threshold":1}}`)

	deadline := time.Now().Add(2 * time.Second)
	for len(m.published()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("mirror got %q", m.published())
		}
		time.Sleep(5 * time.Millisecond)
	}
	// frames and commands arrive on different channels, so only the set
	// of payloads is fixed
	got := m.published()
	sort.Strings(got)
	want := []string{`{"thresholds":{"0":1}}`, `{"values":{"0":[1,1],"1":[2,2]}}`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDisconnect(t *testing.T) {
	tb := newTestBridge(t)
	tb.run(t)
	c := tb.connect(t)

	tb.hub.Disconnect(c)
	select {
	case _, ok := <-c.Outbound():
		if ok {
			t.Error("unexpected message after disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queue not closed")
	}
	tb.hub.Disconnect(c)
}

func TestStopClosesClients(t *testing.T) {
	tb := newTestBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	go tb.hub.Run(ctx)

	c, err := tb.hub.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	recv(t, c)
	cancel()
	<-tb.hub.Done()

	if _, ok := <-c.Outbound(); ok {
		t.Error("queue still open after stop")
	}
	if _, err := tb.hub.Connect(context.Background()); err == nil {
		t.Error("Connect succeeded on a stopped hub")
	}
	tb.hub.Disconnect(c)
}
