package transport

import (
	"errors"
	"testing"

	"github.com/kilianp07/slac/core/model"
)

func TestPipeDelivers(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	link := model.LinkIdentity{
		EV:      model.MACAddr{2, 0, 0, 0, 0, 1},
		Station: model.MACAddr{2, 0, 0, 0, 0, 2},
	}
	frame := []byte{1, 2, 3}
	if err := a.Send(link, frame); err != nil {
		t.Fatalf("send: %v", err)
	}
	frame[0] = 99

	d := <-b.Inbound()
	if d.Link != link {
		t.Errorf("link mismatch: %v", d.Link)
	}
	if d.Payload[0] != 1 {
		t.Errorf("payload not copied: %v", d.Payload)
	}
}

func TestPipeClosed(t *testing.T) {
	a, b := NewPipe()
	b.Close()
	if err := a.Send(model.LinkIdentity{}, []byte{1}); !errors.Is(err, ErrPipeClosed) {
		t.Fatalf("got %v want ErrPipeClosed", err)
	}
	a.Close()
	if err := a.Send(model.LinkIdentity{}, []byte{1}); !errors.Is(err, ErrPipeClosed) {
		t.Fatalf("got %v want ErrPipeClosed", err)
	}
	if _, ok := <-b.Inbound(); ok {
		t.Error("inbound channel not closed")
	}
}

func TestPipeFullBufferDrops(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()
	for i := 0; i < pipeBuffer+10; i++ {
		if err := a.Send(model.LinkIdentity{}, []byte{byte(i)}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if n := len(b.Inbound()); n != pipeBuffer {
		t.Errorf("buffered %d frames, want %d", n, pipeBuffer)
	}
}
