package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
)

const (
	socks4Version = 4
	socks4Connect = 1
	socks4Granted = 90
)

// socks4Dialer connects through a SOCKS4 proxy, using the 4a extension
// when the target is a host name.
type socks4Dialer struct {
	proxyAddr string
	user      string
	forward   ContextDialer
}

func (d *socks4Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("socks4: bad port %q", portStr)
	}

	conn, err := d.forward.DialContext(ctx, network, d.proxyAddr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := socks4Handshake(conn, host, port, d.user); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// socks4Handshake writes the CONNECT request and reads the 8-byte reply.
func socks4Handshake(rw io.ReadWriter, host string, port int, user string) error {
	req := []byte{socks4Version, socks4Connect, 0, 0}
	binary.BigEndian.PutUint16(req[2:], uint16(port))

	ip := net.ParseIP(host).To4()
	if ip == nil {
		// 4a: 0.0.0.x with the host name after the user id.
		req = append(req, 0, 0, 0, 1)
	} else {
		req = append(req, ip...)
	}
	req = append(req, user...)
	req = append(req, 0)
	if ip == nil {
		req = append(req, host...)
		req = append(req, 0)
	}

	if _, err := rw.Write(req); err != nil {
		return fmt.Errorf("socks4: write request: %w", err)
	}

	var reply [8]byte
	if _, err := io.ReadFull(rw, reply[:]); err != nil {
		return fmt.Errorf("socks4: read reply: %w", err)
	}
	if reply[1] != socks4Granted {
		return fmt.Errorf("%w: socks4 code %d", ErrProxyRefused, reply[1])
	}
	return nil
}
