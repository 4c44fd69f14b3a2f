package serialport

import (
	"bytes"
	"errors"
	"testing"
)

func TestTestablePortReadWrite(t *testing.T) {
	port := NewTestablePort()

	if _, err := port.Write([]byte("@253P?\r\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := port.GetWrittenData(); !bytes.Equal(got, []byte("@253P?\r\n")) {
		t.Errorf("written data = %q, want %q", got, "@253P?\r\n")
	}

	port.AddReadData([]byte("ACK1.2E-03\r\n"))
	buf := make([]byte, 64)
	n, err := port.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "ACK1.2E-03\r\n" {
		t.Errorf("read data = %q, want %q", buf[:n], "ACK1.2E-03\r\n")
	}
}

func TestTestablePortEmptyReadDoesNotBlock(t *testing.T) {
	port := NewTestablePort()

	buf := make([]byte, 16)
	n, err := port.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 0 {
		t.Errorf("empty read returned %d bytes, want 0", n)
	}
}

func TestTestablePortErrorInjection(t *testing.T) {
	port := NewTestablePort()
	injected := errors.New("wire fault")

	port.ReadError = injected
	if _, err := port.Read(make([]byte, 8)); !errors.Is(err, injected) {
		t.Errorf("Read error = %v, want injected error", err)
	}
	// injected errors are one-shot
	if _, err := port.Read(make([]byte, 8)); err != nil {
		t.Errorf("second Read error = %v, want nil", err)
	}

	port.WriteError = injected
	if _, err := port.Write([]byte("x")); !errors.Is(err, injected) {
		t.Errorf("Write error = %v, want injected error", err)
	}
}

func TestTestablePortClose(t *testing.T) {
	port := NewTestablePort()
	if err := port.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !port.Closed {
		t.Error("port not marked closed")
	}
	if _, err := port.Read(make([]byte, 8)); err == nil {
		t.Error("Read after Close should fail")
	}
	if _, err := port.Write([]byte("x")); err == nil {
		t.Error("Write after Close should fail")
	}
}

func TestMockFactory(t *testing.T) {
	port := NewTestablePort()
	factory := NewMockFactory(port)

	got, err := factory.Open("/dev/ttyUSB0", Options{BaudRate: 9600})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got != Porter(port) {
		t.Error("Open returned unexpected port")
	}

	call := factory.LastCall()
	if call == nil {
		t.Fatal("no Open call recorded")
	}
	if call.Path != "/dev/ttyUSB0" {
		t.Errorf("recorded path = %q, want /dev/ttyUSB0", call.Path)
	}

	factory.Error = errors.New("no such port")
	if _, err := factory.Open("/dev/ttyUSB1", Options{}); err == nil {
		t.Error("Open should return the injected error")
	}
}
