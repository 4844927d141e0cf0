// Package bridge connects the serial links to the network clients. A
// single goroutine (Hub.Run) owns the sensor registry, the profile set,
// the link table and the client set; everything else talks to it over
// channels.
package bridge

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/linjuya-lu/fsr_bridge_go/internal/profile"
	"github.com/linjuya-lu/fsr_bridge_go/internal/protocol"
	"github.com/linjuya-lu/fsr_bridge_go/internal/registry"
)

const (
	defaultPollInterval    = time.Second / 30
	defaultClientQueueSize = 64
	defaultFrameQueueSize  = 256
)

// Link is the hub's view of a serial link.
type Link interface {
	Name() string
	Send(frame []byte)
	Alive() bool
}

// Mirror receives a copy of every broadcast payload.
type Mirror interface {
	Publish(payload []byte)
}

// Options configures a Hub. Registry, Profiles and Logger are required.
type Options struct {
	Registry        *registry.Registry
	Profiles        *profile.Set
	ProfilesPath    string
	Links           []Link
	PollInterval    time.Duration
	ClientQueueSize int
	FrameQueueSize  int
	Metrics         *Metrics
	Logger          logger.LoggingClient
}

type frameEvent struct {
	port  string
	frame []byte
}

type inboundMessage struct {
	source string
	data   []byte
}

// Hub is the bridge's event loop.
type Hub struct {
	lc           logger.LoggingClient
	reg          *registry.Registry
	profiles     *profile.Set
	profilesPath string
	links        map[string]Link
	linkOrder    []Link
	pollInterval time.Duration
	queueSize    int
	metrics      *Metrics
	sensorGroups []int

	clients map[*Client]struct{}
	mirrors []Mirror

	frames     chan frameEvent
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	done       chan struct{}
}

// NewHub builds a hub. Call AddMirror before Run, then Run exactly once.
func NewHub(opts Options) *Hub {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ClientQueueSize <= 0 {
		opts.ClientQueueSize = defaultClientQueueSize
	}
	if opts.FrameQueueSize <= 0 {
		opts.FrameQueueSize = defaultFrameQueueSize
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	h := &Hub{
		lc:           opts.Logger,
		reg:          opts.Registry,
		profiles:     opts.Profiles,
		profilesPath: opts.ProfilesPath,
		links:        make(map[string]Link, len(opts.Links)),
		pollInterval: opts.PollInterval,
		queueSize:    opts.ClientQueueSize,
		metrics:      opts.Metrics,
		clients:      make(map[*Client]struct{}),
		frames:       make(chan frameEvent, opts.FrameQueueSize),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		inbound:      make(chan inboundMessage),
		done:         make(chan struct{}),
	}
	for _, l := range opts.Links {
		h.links[l.Name()] = l
		h.linkOrder = append(h.linkOrder, l)
	}
	for _, s := range h.reg.Sensors() {
		h.sensorGroups = append(h.sensorGroups, s.Group)
	}
	return h
}

// Metrics returns the hub's collectors.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// AddMirror registers m for every future broadcast. Not safe once Run
// has started.
func (h *Hub) AddMirror(m Mirror) {
	h.mirrors = append(h.mirrors, m)
}

// HandleFrame queues a frame received on port. It never blocks: when the
// queue is full the frame is dropped with a warning. It is the callback
// handed to each serial link.
func (h *Hub) HandleFrame(port string, frame []byte) {
	select {
	case h.frames <- frameEvent{port: port, frame: frame}:
	default:
		h.metrics.droppedFrames.Inc()
		h.lc.Warnf("Frame queue full, dropping frame from port %s", port)
	}
}

// Connect registers a new client. The snapshot is the first message on
// its queue.
func (h *Hub) Connect(ctx context.Context) (*Client, error) {
	c := newClient(h.queueSize)
	select {
	case h.register <- c:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, errStopped()
	}
}

// Disconnect removes c. Its queue is closed once the hub processes the
// request. Safe to call after the hub has stopped.
func (h *Hub) Disconnect(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Receive hands a raw client message to the hub. source only labels logs.
func (h *Hub) Receive(ctx context.Context, source string, data []byte) error {
	select {
	case h.inbound <- inboundMessage{source: source, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errStopped()
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run primes the devices and then serves events until ctx is cancelled.
// All client queues are closed on return.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	defer h.closeClients()

	h.prime()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.lc.Info("Bridge hub stopping")
			return nil
		case f := <-h.frames:
			h.handleFrame(f)
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case m := <-h.inbound:
			h.handleMessage(m)
		case <-ticker.C:
			h.poll()
		}
	}
}

// prime sends every port its pin/button configuration, pushes all
// effective thresholds, and asks each device to report its thresholds.
func (h *Hub) prime() {
	for _, port := range h.reg.Ports() {
		link, ok := h.links[port]
		if !ok || !link.Alive() {
			continue
		}
		sensors := h.reg.Port(port)
		entries := make([]protocol.ConfigEntry, len(sensors))
		for i, s := range sensors {
			entries[i] = protocol.ConfigEntry{Pin: s.Pin, Button: s.Button}
		}
		frame, err := protocol.EncodeConfig(entries)
		if err != nil {
			h.lc.Errorf("Not sending config to port %s: %v", port, err)
			continue
		}
		h.lc.Infof("Sending config update: %s %q", port, frame)
		link.Send(frame)
	}

	h.pushAll(h.profiles.EffectiveAll())

	for _, link := range h.linkOrder {
		link.Send(protocol.EncodeThresholdQuery())
	}
}

func (h *Hub) poll() {
	live := 0
	for _, link := range h.linkOrder {
		if link.Alive() {
			live++
			link.Send(protocol.EncodePoll())
		}
	}
	h.metrics.liveLinks.Set(float64(live))
}

func (h *Hub) handleFrame(f frameEvent) {
	ev, err := protocol.Decode(f.frame)
	if err != nil {
		h.metrics.malformedFrames.WithLabelValues(f.port).Inc()
		h.lc.Warnf("Discarding frame from port %s: %v", f.port, err)
		return
	}
	sensors := h.reg.Port(f.port)
	if sensors == nil {
		h.lc.Warnf("Discarding frame from unknown port %s", f.port)
		return
	}
	h.metrics.framesReceived.WithLabelValues(f.port, ev.Kind.String()).Inc()

	switch ev.Kind {
	case protocol.KindValues:
		pairs, err := protocol.PairValues(ev.Ints, len(sensors))
		if err != nil {
			h.metrics.malformedFrames.WithLabelValues(f.port).Inc()
			h.lc.Warnf("Received incorrect number of values from port %s: %v", f.port, ev.Ints)
			return
		}
		values := make(map[string]protocol.Pair, len(pairs))
		for i, s := range sensors {
			values[strconv.Itoa(s.ID)] = pairs[i]
		}
		h.broadcast(valuesMessage{Values: values})

	case protocol.KindThresholds:
		h.lc.Infof("Received FSR thresholds: %s %v", f.port, ev.Ints)
		if len(ev.Ints) != len(sensors) {
			h.lc.Warnf("Received incorrect number of thresholds from port %s: %v", f.port, ev.Ints)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.clients[c] = struct{}{}
	h.metrics.clients.Set(float64(len(h.clients)))
	h.lc.Infof("Client %s connected (%d total)", c.ID, len(h.clients))

	payload, err := json.Marshal(h.snapshot())
	if err != nil {
		h.lc.Errorf("Failed to encode snapshot: %v", err)
		return
	}
	h.deliver(c, payload)
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.clients.Set(float64(len(h.clients)))
	h.lc.Infof("Client %s disconnected (%d total)", c.ID, len(h.clients))
}

func (h *Hub) closeClients() {
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.metrics.clients.Set(0)
}

// broadcast encodes msg once and queues it for every client and mirror.
func (h *Hub) broadcast(msg interface{}) {
	if len(h.clients) == 0 && len(h.mirrors) == 0 {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.lc.Errorf("Failed to encode broadcast: %v", err)
		return
	}
	for c := range h.clients {
		h.deliver(c, payload)
	}
	for _, m := range h.mirrors {
		m.Publish(payload)
	}
	h.metrics.broadcasts.Inc()
}

func (h *Hub) deliver(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.metrics.droppedMessages.Inc()
		h.lc.Warnf("Client %s queue full, dropping message", c.ID)
	}
}

func (h *Hub) handleMessage(m inboundMessage) {
	h.lc.Debugf("Received message from %s: %s", m.source, m.data)

	cmds, err := DecodeCommands(m.data, h.reg.Len())
	if err != nil {
		h.lc.Warnf("Ignoring message from %s: %v", m.source, err)
		return
	}
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case SetThreshold:
			h.setThreshold(c.ID, c.Threshold)
		case ChangeThreshold:
			h.changeThreshold(c.ID, c.Delta)
		case SetActiveProfile:
			h.setActiveProfile(c.Name)
		case SetSecondaryProfile:
			h.setSecondaryProfile(c.Name)
		}
	}
}

func (h *Hub) setThreshold(id, value int) {
	if err := h.profiles.SetThreshold(id, profile.Value(value)); err != nil {
		h.lc.Warnf("Rejected threshold %d for sensor %d: %v", value, id, err)
		return
	}
	h.persist()

	t := h.profiles.Effective(id)
	h.pushThreshold(id, t)
	h.broadcast(thresholdsMessage{Thresholds: map[string]profile.Threshold{strconv.Itoa(id): t}})
}

func (h *Hub) changeThreshold(id, delta int) {
	current, ok := h.profiles.Effective(id).Get()
	if !ok {
		h.lc.Warnf("Rejected change of %d for sensor %d: no threshold is set", delta, id)
		return
	}
	next := current + delta
	if next < 0 {
		next = 0
	}
	h.setThreshold(id, next)
}

func (h *Hub) setActiveProfile(name string) {
	thresholds, created := h.profiles.SetActive(name)
	if created {
		h.lc.Infof("Created profile %s", name)
		h.persist()
	}
	h.pushAll(thresholds)
	h.broadcast(activeProfileMessage{
		Thresholds:    thresholdMap(thresholds),
		ActiveProfile: name,
	})
}

func (h *Hub) setSecondaryProfile(name *string) {
	thresholds, err := h.profiles.SetSecondary(name)
	if err != nil {
		h.lc.Warnf("Secondary profile cleared: %v", err)
	}
	h.pushAll(thresholds)
	h.broadcast(secondaryProfileMessage{
		Thresholds:       thresholdMap(thresholds),
		SecondaryProfile: h.secondaryName(),
	})
}

func (h *Hub) pushAll(thresholds []profile.Threshold) {
	for id, t := range thresholds {
		h.pushThreshold(id, t)
	}
}

// pushThreshold sends t to the device that hosts sensor id. An unset
// threshold goes out as the never-trigger value.
func (h *Hub) pushThreshold(id int, t profile.Threshold) {
	sensor, ok := h.reg.Sensor(id)
	if !ok {
		return
	}
	link, ok := h.links[sensor.Port]
	if !ok || !link.Alive() {
		return
	}
	if !t.IsSet() {
		h.lc.Warnf("Sensor %d has no threshold in any selected profile, disabling it", id)
	}
	frame := protocol.EncodeThreshold(sensor.Index, t.Raw())
	h.lc.Debugf("Sending threshold update: %s %q", sensor.Port, frame)
	link.Send(frame)
}

func (h *Hub) persist() {
	if h.profilesPath == "" {
		return
	}
	if err := h.profiles.Persist(h.profilesPath); err != nil {
		h.lc.Errorf("Failed to save profiles: %v", err)
	}
}

func errStopped() error {
	return errors.NewCommonEdgeX(errors.KindServiceUnavailable, "bridge hub is not running", nil)
}
