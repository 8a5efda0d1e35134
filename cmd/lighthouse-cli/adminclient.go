package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/lighthouse-coord/lighthouse/internal/adminsock"
)

const adminDialTimeout = 5 * time.Second

// callAdmin dials the admin socket, writes one newline-delimited JSON
// request, and reads one newline-delimited JSON response, exactly
// matching adminsock.Server's protocol (one request per connection).
func callAdmin(req adminsock.Request) (adminsock.Response, error) {
	conn, err := net.DialTimeout("unix", adminSocket, adminDialTimeout)
	if err != nil {
		return adminsock.Response{}, fmt.Errorf("dial admin socket %q: %w", adminSocket, err)
	}
	defer conn.Close() //nolint:errcheck

	deadline := time.Now().Add(adminDialTimeout)
	_ = conn.SetDeadline(deadline)

	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return adminsock.Response{}, fmt.Errorf("encode admin request: %w", err)
	}

	var resp adminsock.Response
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 4096)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return adminsock.Response{}, fmt.Errorf("read admin response: %w", err)
		}
		return adminsock.Response{}, fmt.Errorf("admin socket closed without a response")
	}
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return adminsock.Response{}, fmt.Errorf("decode admin response: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("admin command failed: %s", resp.Error)
	}
	return resp, nil
}
