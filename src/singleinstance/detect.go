package singleinstance

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"time"
)

const defaultProbeTimeout = 300 * time.Millisecond

// DetectResidentPort probes the port range in order and returns the first port
// whose listener answers PING with PONG. The probe stops early when ctx is done.
func DetectResidentPort(ctx context.Context) (int, bool) {
	start, end := getPortRange()
	for port := start; port <= end; port++ {
		if ctx.Err() != nil {
			return 0, false
		}
		if probe(ctx, net.JoinHostPort(residentHost, strconv.Itoa(port))) {
			return port, true
		}
	}
	return 0, false
}

// probe dials addr and exchanges one PING within the probe timeout or the
// remaining ctx deadline, whichever is shorter.
func probe(ctx context.Context, addr string) bool {
	pctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(pctx, "tcp", addr)
	if err != nil {
		return false
	}
	defer conn.Close()
	if dl, ok := pctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	if _, err := conn.Write([]byte(pingRequest)); err != nil {
		return false
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	return err == nil && resp == pongResponse
}
