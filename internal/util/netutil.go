package util

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
)

const (
	// ListenFdsEnvKey holds the number of listening sockets passed by a
	// socket-activating supervisor such as systemd.
	ListenFdsEnvKey = "LISTEN_FDS"
	// ListenPidEnvKey names the process the sockets are meant for.
	ListenPidEnvKey = "LISTEN_PID"

	// listenFdsStart is the first inherited descriptor; 0-2 are stdio.
	listenFdsStart = 3
)

// ParseInheritedListenerFDs returns the descriptors handed over through
// LISTEN_FDS. It returns nil when the variable is unset or LISTEN_PID names
// another process.
func ParseInheritedListenerFDs() ([]uintptr, error) {
	fdsEnv := os.Getenv(ListenFdsEnvKey)
	if fdsEnv == "" {
		return nil, nil
	}
	if pidEnv := os.Getenv(ListenPidEnvKey); pidEnv != "" {
		pid, err := strconv.Atoi(pidEnv)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", ListenPidEnvKey, pidEnv, err)
		}
		if pid != os.Getpid() {
			return nil, nil
		}
	}

	n, err := strconv.Atoi(strings.TrimSpace(fdsEnv))
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", ListenFdsEnvKey, fdsEnv, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("invalid negative %s value: %d", ListenFdsEnvKey, n)
	}

	fds := make([]uintptr, n)
	for i := range fds {
		fds[i] = uintptr(listenFdsStart + i)
	}
	return fds, nil
}

// NewListenerFromFD wraps an inherited listening socket. The descriptor is
// owned by the returned listener's duplicate and is closed here.
func NewListenerFromFD(fd uintptr) (net.Listener, error) {
	file := os.NewFile(fd, fmt.Sprintf("listener-from-fd-%d", fd))
	if file == nil {
		return nil, fmt.Errorf("os.NewFile returned nil for FD %d", fd)
	}
	defer file.Close()

	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("net.FileListener failed for FD %d: %w", fd, err)
	}
	return listener, nil
}

// Listen returns the first inherited socket when the process was socket
// activated, otherwise a new TCP listener on address. inherited reports which.
func Listen(address string) (l net.Listener, inherited bool, err error) {
	fds, err := ParseInheritedListenerFDs()
	if err != nil {
		return nil, false, err
	}
	if len(fds) > 0 {
		l, err := NewListenerFromFD(fds[0])
		if err != nil {
			return nil, false, err
		}
		return l, true, nil
	}

	l, err = net.Listen("tcp", address)
	if err != nil {
		return nil, false, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return l, false, nil
}

// IsAddrInUse checks if the error indicates an "address already in use" condition.
func IsAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	// Some platforms only surface the condition in the message.
	return strings.Contains(strings.ToLower(err.Error()), "address already in use")
}
