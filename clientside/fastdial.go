package clientside

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// fastDialTimeout bounds both resolution and the overall race.
const fastDialTimeout = 3 * time.Second

// fastDial opens a TCP connection to addr, adapted from the teacher's
// multi-target racing dialer: if addr's host resolves to more than one
// IP, every address is dialed concurrently and the first to connect
// wins, so a local service behind a slow or dead address on a
// multi-homed host doesn't stall every OPEN.
func fastDial(ctx context.Context, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return (&net.Dialer{Timeout: fastDialTimeout}).DialContext(ctx, "tcp", addr)
	}
	if _, perr := netip.ParseAddr(host); perr == nil {
		return (&net.Dialer{Timeout: fastDialTimeout}).DialContext(ctx, "tcp", addr)
	}

	rctx, cancel := context.WithTimeout(ctx, fastDialTimeout)
	defer cancel()
	addrs, rerr := net.DefaultResolver.LookupIP(rctx, "ip", host)
	if rerr != nil || len(addrs) == 0 {
		return (&net.Dialer{Timeout: fastDialTimeout}).DialContext(ctx, "tcp", addr)
	}
	if len(addrs) == 1 {
		return (&net.Dialer{Timeout: fastDialTimeout}).DialContext(ctx, "tcp", net.JoinHostPort(addrs[0].String(), port))
	}

	type result struct {
		conn net.Conn
		err  error
	}
	dctx, dcancel := context.WithTimeout(ctx, fastDialTimeout)
	defer dcancel()
	resCh := make(chan result, len(addrs))
	for _, ip := range addrs {
		go func(ip net.IP) {
			d := &net.Dialer{Timeout: fastDialTimeout}
			c, err := d.DialContext(dctx, "tcp", net.JoinHostPort(ip.String(), port))
			resCh <- result{conn: c, err: err}
		}(ip)
	}

	var firstErr error
	for range addrs {
		r := <-resCh
		if r.err == nil {
			dcancel()
			return r.conn, nil
		}
		if firstErr == nil {
			firstErr = r.err
		}
	}
	return nil, firstErr
}
