// Package portbind opens listen sockets with port retry.
package portbind

import (
	"fmt"
	"net"
	"strconv"
)

// ListenTCP binds a TCP listener on host starting at port.
// On address-in-use it retries up to maxRetry times, incrementing the
// port. If fallbackToAny is set, a final attempt binds port 0 and lets
// the OS choose. Returns the listener and the port actually bound.
func ListenTCP(host string, port, maxRetry int, fallbackToAny bool) (*net.TCPListener, int, error) {
	var lastErr error
	for i := 0; i <= maxRetry; i++ {
		p := port + i
		ln, err := listen(host, p)
		if err == nil {
			return ln, ln.Addr().(*net.TCPAddr).Port, nil
		}
		lastErr = err
	}
	if fallbackToAny {
		ln, err := listen(host, 0)
		if err == nil {
			return ln, ln.Addr().(*net.TCPAddr).Port, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("cannot bind port %d-%d: %w", port, port+maxRetry, lastErr)
}

func listen(host string, port int) (*net.TCPListener, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return net.ListenTCP("tcp", addr)
}

// ResolveDevice maps an interface name like "eth0" to a bindable host
// address. A host string that is not an interface name passes through.
func ResolveDevice(host string) (string, error) {
	if host == "" || net.ParseIP(host) != nil {
		return host, nil
	}
	ifi, err := net.InterfaceByName(host)
	if err != nil {
		// Not a device name; let the resolver have it.
		return host, nil // nolint: nilerr
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
			return ipnet.IP.String(), nil
		}
	}
	return "", fmt.Errorf("interface %q has no usable address", host)
}
