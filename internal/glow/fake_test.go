package glow

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chaz8081/glowctl/internal/ble"
	"github.com/chaz8081/glowctl/internal/ble/protocol"
)

// stateOnHex is a captured state report: on, 1 min of 15 remaining,
// battery 100%.
const stateOnHex = "08c392b043100118aac89c15221b9a0118080110dbc20418a0f7362000280030003a04080310064064"

// stateOffLowHex is a captured state report: off, battery 25%.
const stateOffLowHex = "08f091b043100118ecc8f8980822179a01140803100018002000280030003a04080010034064"

// fakeGlow is an Adapter whose connections behave like a Glow light. It
// records every packet written and how many sessions overlap.
type fakeGlow struct {
	mu        sync.Mutex
	token     uint64
	report    []byte // answer to queryBody; nil: never answers
	queryBody []byte
	silent    bool // never sends the ready notification
	delay     time.Duration

	enables    int
	connects   int
	macs       []string
	packets    [][]byte
	active     int
	maxActive  int
	conns      []*fakeConn
	connectErr error
}

func newFakeGlow(token uint64, report []byte) *fakeGlow {
	return &fakeGlow{token: token, report: report, queryBody: protocol.BodyQueryState}
}

func (f *fakeGlow) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enables++
	return nil
}

func (f *fakeGlow) Scan(context.Context, []string) ([]ble.Device, error) {
	return nil, nil
}

func (f *fakeGlow) Connect(_ context.Context, mac string) (ble.Connection, error) {
	f.mu.Lock()
	f.connects++
	f.macs = append(f.macs, mac)
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		return nil, err
	}
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	delay := f.delay
	f.mu.Unlock()

	time.Sleep(delay)
	return f.newConn(true), nil
}

func (f *fakeGlow) newConn(owned bool) *fakeConn {
	c := &fakeConn{glow: f, owned: owned}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c
}

func (f *fakeGlow) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.packets))
	copy(out, f.packets)
	return out
}

// lastAction returns the last packet that was not a reconnect packet.
func (f *fakeGlow) lastAction() []byte {
	w := f.written()
	for i := len(w) - 1; i >= 0; i-- {
		if !bytes.Equal(w[i], protocol.BuildReconnectPacket()) {
			return w[i]
		}
	}
	return nil
}

func (f *fakeGlow) counts() (enables, connects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enables, f.connects
}

type fakeConn struct {
	glow        *fakeGlow
	owned       bool
	mu          sync.Mutex
	notify      func([]byte)
	disconnects int
}

func (c *fakeConn) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	if serviceUUID != ble.ServiceUUID {
		return nil, fmt.Errorf("fake: unknown service %q", serviceUUID)
	}
	switch charUUID {
	case ble.WriteCharUUID:
		return fakeWriter{c}, nil
	case ble.ReadCharUUID:
		return fakeReader{c}, nil
	}
	return nil, fmt.Errorf("fake: unknown characteristic %q", charUUID)
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	if c.owned {
		c.glow.mu.Lock()
		c.glow.active--
		c.glow.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) OnDisconnect(func()) {}

func (c *fakeConn) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func (c *fakeConn) send(data []byte) {
	c.mu.Lock()
	cb := c.notify
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

type fakeReader struct{ c *fakeConn }

func (r fakeReader) Write([]byte) error { return fmt.Errorf("fake: read characteristic is not writable") }

func (r fakeReader) Subscribe(cb func([]byte)) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	r.c.notify = cb
	return nil
}

type fakeWriter struct{ c *fakeConn }

func (w fakeWriter) Subscribe(func([]byte)) error { return nil }

func (w fakeWriter) Write(data []byte) error {
	f := w.c.glow
	f.mu.Lock()
	f.packets = append(f.packets, bytes.Clone(data))
	token, report, query, silent := f.token, f.report, f.queryBody, f.silent
	f.mu.Unlock()

	if bytes.Equal(data, protocol.BuildReconnectPacket()) {
		if !silent {
			w.c.send(readyNotification(token))
		}
		return nil
	}
	fields, err := protocol.ParseFields(data)
	if err != nil {
		return err
	}
	if body, _ := protocol.FirstBytes(fields, 4); bytes.Equal(body, query) && report != nil {
		w.c.send(report)
	}
	return nil
}

func readyNotification(token uint64) []byte {
	out := append([]byte{0x08}, protocol.EncodeVarint(token)...)
	return append(out, 0x72, 0x02, 0x08, 0x00)
}
