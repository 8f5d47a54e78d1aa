// Package activation opens the origin server's listener, preferring a socket
// handed over by systemd.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// firstFD is the first descriptor systemd passes (0-2 are stdio).
const firstFD = 3

// Listen returns the first systemd-activated listener when one was passed to
// this process, and otherwise listens on addr. The boolean reports whether the
// listener came from socket activation.
func Listen(addr string) (net.Listener, bool, error) {
	listeners, err := Listeners()
	if err != nil {
		return nil, false, err
	}
	if len(listeners) > 0 {
		for _, extra := range listeners[1:] {
			_ = extra.Close()
		}
		return listeners[0], true, nil
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return l, false, nil
}

// Listeners returns the systemd-activated listeners, or nil when the process
// was not socket activated.
func Listeners() ([]net.Listener, error) {
	n, err := activatedFDs(os.Getenv, os.Getpid())
	if err != nil || n == 0 {
		return nil, err
	}

	listeners := make([]net.Listener, 0, n)
	for i := range n {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), "systemd-socket-"+strconv.Itoa(i))
		if file == nil {
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		l, err := net.FileListener(file)
		// the listener holds its own duplicate of the descriptor
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}
		listeners = append(listeners, l)
	}

	// child processes such as the launched game must not inherit these
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// activatedFDs parses LISTEN_PID and LISTEN_FDS and returns how many
// descriptors were passed to pid.
func activatedFDs(getenv func(string) string, pid int) (int, error) {
	pidStr := getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil
	}
	listenPID, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if listenPID != pid {
		return 0, nil
	}

	fdsStr := getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	return max(n, 0), nil
}
