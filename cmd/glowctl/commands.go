package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/chaz8081/glowctl/internal/ble"
	"github.com/chaz8081/glowctl/internal/ble/protocol"
	"github.com/chaz8081/glowctl/internal/config"
)

type DiscoverCmd struct {
	Timeout time.Duration `help:"Scan duration (default: timeouts.scan)."`
}

func (c *DiscoverCmd) Run(a *app) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = a.cfg.Timeouts.Scan
	}

	fmt.Printf("Scanning for %s...\n", timeout)
	found, err := ble.DiscoverGlows(a.ctx, a.adapter, timeout)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No Glow lights found.")
		return nil
	}
	for _, dev := range found {
		fmt.Printf("  %-36s  %4d dBm  %s\n", dev.MAC, dev.RSSI, dev.Name)
	}
	return nil
}

type OnCmd struct {
	Brightness int `help:"Also set brightness (percent)."`
}

func (c *OnCmd) Run(a *app) error {
	g, err := a.glow()
	if err != nil {
		return err
	}
	if err := g.TurnOn(a.ctx); err != nil {
		return err
	}
	if c.Brightness != 0 {
		return g.SetBrightness(a.ctx, c.Brightness)
	}
	return nil
}

type OffCmd struct{}

func (c *OffCmd) Run(a *app) error {
	g, err := a.glow()
	if err != nil {
		return err
	}
	return g.TurnOff(a.ctx)
}

type PauseCmd struct{}

func (c *PauseCmd) Run(a *app) error {
	g, err := a.glow()
	if err != nil {
		return err
	}
	return g.Pause(a.ctx)
}

type ResumeCmd struct{}

func (c *ResumeCmd) Run(a *app) error {
	g, err := a.glow()
	if err != nil {
		return err
	}
	return g.Resume(a.ctx)
}

type BrightnessCmd struct {
	Percent int `arg:"" help:"Brightness percent."`
}

func (c *BrightnessCmd) Run(a *app) error {
	g, err := a.glow()
	if err != nil {
		return err
	}
	return g.SetBrightness(a.ctx, c.Percent)
}

// DimmingCmd needs the brightness because each invocation starts without
// any remembered state and the firmware takes both values together.
type DimmingCmd struct {
	Minutes    int `arg:"" help:"Dimming time in minutes."`
	Brightness int `required:"" help:"Brightness percent to send with the dimming time."`
}

func (c *DimmingCmd) Run(a *app) error {
	g, err := a.glow()
	if err != nil {
		return err
	}
	if err := g.SetBrightness(a.ctx, c.Brightness); err != nil {
		return err
	}
	return g.SetDimmingTime(a.ctx, c.Minutes)
}

type StateCmd struct {
	Raw bool `help:"Also print the raw state report."`
}

func (c *StateCmd) Run(a *app) error {
	g, err := a.glow()
	if err != nil {
		return err
	}
	s, err := g.QueryState(a.ctx)
	if err != nil {
		return err
	}

	fmt.Printf("=== %s ===\n", g.Address())
	fmt.Printf("  Power:      %s\n", onOff(s.On))
	fmt.Printf("  Paused:     %s\n", yesNo(s.Paused))
	fmt.Printf("  Remaining:  %s\n", minutes(s.DimmingRemaining))
	fmt.Printf("  Dimming:    %s\n", minutes(s.ConfiguredDimming))
	if s.Battery != nil {
		fmt.Printf("  Battery:    %s\n", s.Battery)
	} else {
		fmt.Println("  Battery:    unknown")
	}
	if c.Raw {
		fmt.Printf("  Raw:        %x\n", s.Raw)
		fmt.Print(indent(protocol.DescribeFields(s.Raw), "    "))
	}
	return nil
}

type HandshakeCmd struct{}

func (c *HandshakeCmd) Run(a *app) error {
	g, err := a.glow()
	if err != nil {
		return err
	}
	start := time.Now()
	if err := g.Handshake(a.ctx); err != nil {
		return err
	}
	fmt.Printf("%s is reachable (handshake in %s)\n", g.Address(), time.Since(start).Round(time.Millisecond))
	return nil
}

// CaptureCmd performs the handshake by hand and prints every notification
// decoded, optionally sending an action body once the device is ready.
type CaptureCmd struct {
	Duration time.Duration `default:"15s" help:"How long to listen."`
	Body     string        `help:"Hex action body to send once the device is ready."`
	Query    bool          `help:"Send the state query body once the device is ready."`
}

func (c *CaptureCmd) Run(a *app) error {
	addr, err := a.requireAddress()
	if err != nil {
		return err
	}
	body, err := c.actionBody(a.cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(a.ctx, c.Duration)
	defer cancel()

	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	conn, err := a.adapter.Connect(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	readChar, err := conn.DiscoverCharacteristic(ble.ServiceUUID, ble.ReadCharUUID)
	if err != nil {
		return err
	}
	writeChar, err := conn.DiscoverCharacteristic(ble.ServiceUUID, ble.WriteCharUUID)
	if err != nil {
		return err
	}

	tokens := make(chan uint64, 1)
	err = readChar.Subscribe(func(data []byte) {
		fmt.Printf("%s  %x\n", time.Now().Format("15:04:05.000"), data)
		fmt.Print(indent(protocol.DescribeFields(data), "    "))
		if token, err := protocol.ExtractSessionToken(data); err == nil {
			select {
			case tokens <- token:
			default:
			}
		}
	})
	if err != nil {
		return err
	}

	if err := writeChar.Write(protocol.BuildReconnectPacket()); err != nil {
		return err
	}
	fmt.Printf("Listening on %s for %s...\n", addr, c.Duration)

	for {
		select {
		case <-ctx.Done():
			return nil
		case token := <-tokens:
			fmt.Printf("ready, token %d\n", token)
			if body == nil {
				continue
			}
			packet := protocol.BuildActionPacket(token, body)
			if err := writeChar.Write(packet); err != nil {
				return err
			}
			fmt.Printf("sent %x\n", packet)
			body = nil
		}
	}
}

func (c *CaptureCmd) actionBody(cfg *config.Config) ([]byte, error) {
	switch {
	case c.Body != "":
		b, err := hex.DecodeString(strings.ReplaceAll(c.Body, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("--body must be hex: %w", err)
		}
		return b, nil
	case c.Query:
		if b, err := cfg.QueryBody(); err != nil || b != nil {
			return b, err
		}
		return protocol.BodyQueryState, nil
	}
	return nil, nil
}

type InitConfigCmd struct{}

func (c *InitConfigCmd) Run(a *app) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

func onOff(b *bool) string {
	switch {
	case b == nil:
		return "unknown"
	case *b:
		return "on"
	}
	return "off"
}

func yesNo(b *bool) string {
	switch {
	case b == nil:
		return "unknown"
	case *b:
		return "yes"
	}
	return "no"
}

func minutes(m *int) string {
	if m == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d min", *m)
}

func indent(s, prefix string) string {
	if s == "" {
		return ""
	}
	lines := strings.SplitAfter(s, "\n")
	var sb strings.Builder
	for _, l := range lines {
		if l != "" {
			sb.WriteString(prefix + l)
		}
	}
	return sb.String()
}
