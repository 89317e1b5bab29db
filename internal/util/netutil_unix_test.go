//go:build unix

package util

import (
	"net"
	"syscall"
	"testing"
)

func TestNewListenerFromFD(t *testing.T) {
	orig, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer orig.Close()

	f, err := orig.(*net.TCPListener).File()
	if err != nil {
		t.Fatalf("File(): %v", err)
	}
	defer f.Close()

	fd, err := syscall.Dup(int(f.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}

	l, err := NewListenerFromFD(uintptr(fd))
	if err != nil {
		t.Fatalf("NewListenerFromFD() error = %v", err)
	}
	defer l.Close()

	if l.Addr().String() != orig.Addr().String() {
		t.Errorf("Addr() = %s, want %s", l.Addr(), orig.Addr())
	}

	done := make(chan error, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			c.Close()
		}
		done <- err
	}()
	c, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.Close()
	if err := <-done; err != nil {
		t.Errorf("Accept() error = %v", err)
	}
}
