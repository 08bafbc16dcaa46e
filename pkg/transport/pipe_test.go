package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func connectPipe(t *testing.T) *Pipe {
	t.Helper()
	p := NewPipe()
	t.Cleanup(func() { p.Close() })
	if err := p.Central().Connect(context.Background(), "lock-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return p
}

// tickFor delivers packets by hand until one arrives on ch.
func tickFor(t *testing.T, p *Pipe, ch <-chan []byte) []byte {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		p.Tick()
		select {
		case b := <-ch:
			return b
		case <-deadline:
			t.Fatal("timeout waiting for manual delivery")
			return nil
		case <-time.After(time.Millisecond):
		}
	}
}

func waitFor(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delivery")
		return nil
	}
}

// TestPipe_WriteAndNotify verifies data flows on both channels in both directions.
func TestPipe_WriteAndNotify(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	toLock := make(chan []byte, 4)
	connected := make(chan []byte, 1)
	lock := p.Peripheral()
	lock.OnConnect(func(addr string) { connected <- []byte(addr) })
	if err := lock.Subscribe(ChannelPairing, func(b []byte) { toLock <- b }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	client := p.Central()
	if err := client.Connect(context.Background(), "lock-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if addr := waitFor(t, connected); string(addr) != "lock-1" {
		t.Errorf("OnConnect address = %q", addr)
	}

	fromLock := make(chan []byte, 4)
	if err := client.Subscribe(ChannelCommand, func(b []byte) { fromLock <- b }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := client.Write(ChannelPairing, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := waitFor(t, toLock); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("lock got %X", got)
	}

	if err := lock.Write(ChannelCommand, []byte{9}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := waitFor(t, fromLock); !bytes.Equal(got, []byte{9}) {
		t.Errorf("client got %X", got)
	}
}

func TestPipe_NotConnected(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	if err := p.Central().Write(ChannelPairing, []byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write err = %v, want ErrNotConnected", err)
	}
	if err := p.Central().Subscribe(ChannelPairing, func([]byte) {}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe err = %v, want ErrNotConnected", err)
	}
	if err := p.Peripheral().Connect(context.Background(), "x"); err == nil {
		t.Error("peripheral Connect should fail")
	}
}

func TestPipe_Unreachable(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	p.SetReachable(false)

	err := p.Central().Connect(context.Background(), "lock-1")
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", err)
	}
	if err := p.Central().Connect(context.Background(), ""); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("err = %v, want ErrInvalidAddress", err)
	}
}

func TestPipe_InvalidChannel(t *testing.T) {
	p := connectPipe(t)
	if err := p.Central().Write(ChannelUnknown, []byte{1}); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("err = %v, want ErrInvalidChannel", err)
	}
	if err := p.Central().Write(ChannelPairing, make([]byte, MaxPacketSize)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("err = %v, want ErrMessageTooLarge", err)
	}
}

func TestPipe_Disconnect(t *testing.T) {
	p := connectPipe(t)

	reasons := make(chan error, 2)
	p.Central().OnDisconnect(func(reason error) { reasons <- reason })

	p.Disconnect()

	select {
	case r := <-reasons:
		if !errors.Is(r, ErrLinkLost) {
			t.Errorf("reason = %v, want ErrLinkLost", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no disconnect callback")
	}
	if p.Central().Connected() {
		t.Error("central still connected")
	}
	if err := p.Central().Write(ChannelCommand, []byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}

	// Reconnect works after link loss.
	if err := p.Central().Connect(context.Background(), "lock-1"); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
}

func TestPipe_CloseNotifiesPeer(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	reasons := make(chan error, 1)
	p.Peripheral().OnDisconnect(func(reason error) { reasons <- reason })

	if err := p.Central().Connect(context.Background(), "lock-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := p.Central().Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case r := <-reasons:
		if !errors.Is(r, ErrClosed) {
			t.Errorf("reason = %v, want ErrClosed", r)
		}
	case <-time.After(time.Second):
		t.Fatal("peripheral not notified")
	}
}

func TestPipe_ManualProcess(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: false})
	defer p.Close()

	if p.AutoProcess() {
		t.Fatal("AutoProcess should be false")
	}

	got := make(chan []byte, 1)
	p.Peripheral().Subscribe(ChannelPairing, func(b []byte) { got <- b })
	if err := p.Central().Connect(context.Background(), "lock-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	p.Central().Write(ChannelPairing, []byte{7})

	select {
	case <-got:
		t.Fatal("delivered without processing")
	case <-time.After(20 * time.Millisecond):
	}

	if b := tickFor(t, p, got); !bytes.Equal(b, []byte{7}) {
		t.Errorf("got %X", b)
	}
	p.Process()
}

func TestNetworkCondition_DropAll(t *testing.T) {
	p := connectPipe(t)
	p.SetCondition(NetworkCondition{DropRate: 1.0})

	got := make(chan []byte, 1)
	p.Peripheral().Subscribe(ChannelPairing, func(b []byte) { got <- b })

	if err := p.Central().Write(ChannelPairing, []byte{1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	select {
	case <-got:
		t.Fatal("packet should have been dropped")
	case <-time.After(50 * time.Millisecond):
	}
	if p.Condition().DropRate != 1.0 {
		t.Errorf("DropRate = %v", p.Condition().DropRate)
	}
}

func TestPipe_Close(t *testing.T) {
	p := NewPipe()
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if err := p.Central().Connect(context.Background(), "lock-1"); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestPipe_CloseAfterTraffic(t *testing.T) {
	p := connectPipe(t)
	got := make(chan []byte, 8)
	p.Peripheral().Subscribe(ChannelCommand, func(b []byte) { got <- b })
	for i := 0; i < 3; i++ {
		if err := p.Central().Write(ChannelCommand, []byte{byte(i)}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- p.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	if err := p.Central().Write(ChannelCommand, []byte{9}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close err = %v, want ErrClosed", err)
	}
}

func TestPipe_CloseWithoutAutoProcess(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: false})
	if err := p.Central().Connect(context.Background(), "lock-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestPipe_SetAutoProcess(t *testing.T) {
	p := connectPipe(t)
	got := make(chan []byte, 4)
	p.Peripheral().Subscribe(ChannelPairing, func(b []byte) { got <- b })

	p.SetAutoProcess(false)
	if p.AutoProcess() {
		t.Fatal("AutoProcess should be false")
	}
	p.Central().Write(ChannelPairing, []byte{1})
	select {
	case <-got:
		t.Fatal("delivered while auto-processing is off")
	case <-time.After(20 * time.Millisecond):
	}
	if b := tickFor(t, p, got); !bytes.Equal(b, []byte{1}) {
		t.Errorf("got %X", b)
	}

	p.SetAutoProcess(true)
	p.Central().Write(ChannelPairing, []byte{2})
	if b := waitFor(t, got); !bytes.Equal(b, []byte{2}) {
		t.Errorf("got %X", b)
	}
}

func TestNetworkCondition_Duplicate(t *testing.T) {
	p := connectPipe(t)
	p.SetCondition(NetworkCondition{DuplicateRate: 1.0})

	got := make(chan []byte, 4)
	p.Peripheral().Subscribe(ChannelPairing, func(b []byte) { got <- b })
	if err := p.Central().Write(ChannelPairing, []byte{5}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if b := waitFor(t, got); !bytes.Equal(b, []byte{5}) {
			t.Errorf("copy %d = %X", i, b)
		}
	}
}

func TestNetworkCondition_Delay(t *testing.T) {
	p := connectPipe(t)
	p.SetCondition(NetworkCondition{DelayMin: 20 * time.Millisecond, DelayMax: 30 * time.Millisecond})

	start := time.Now()
	if err := p.Central().Write(ChannelPairing, []byte{1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if d := time.Since(start); d < 20*time.Millisecond {
		t.Errorf("Write took %s, want at least 20ms", d)
	}
}

func TestEndpoint_SetCondition(t *testing.T) {
	p := connectPipe(t)
	p.Peripheral().SetCondition(NetworkCondition{DropRate: 1.0})

	if p.Central().Condition().DropRate != 0 {
		t.Error("central should keep the pipe condition")
	}
	if p.Peripheral().Condition().DropRate != 1.0 {
		t.Error("peripheral override not applied")
	}

	toLock := make(chan []byte, 1)
	p.Peripheral().Subscribe(ChannelPairing, func(b []byte) { toLock <- b })
	fromLock := make(chan []byte, 1)
	p.Central().Subscribe(ChannelPairing, func(b []byte) { fromLock <- b })

	p.Central().Write(ChannelPairing, []byte{1})
	waitFor(t, toLock)

	p.Peripheral().Write(ChannelPairing, []byte{2})
	select {
	case <-fromLock:
		t.Fatal("peripheral packet should have been dropped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannel(t *testing.T) {
	if ChannelPairing.Characteristic().String() != "a92ee101-5501-11e4-916c-0800200c9a66" {
		t.Errorf("pairing characteristic = %s", ChannelPairing.Characteristic())
	}
	if ChannelCommand.Service().String() != "a92ee200-5501-11e4-916c-0800200c9a66" {
		t.Errorf("command service = %s", ChannelCommand.Service())
	}
	if ChannelUnknown.IsValid() || ChannelUnknown.String() != "Unknown" {
		t.Error("ChannelUnknown should be invalid")
	}
}
