package antivirus

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strings"
	"time"

	"github.com/go-errors/errors"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

// Talks to a clamd daemon over its unix socket (or host:port). The
// daemon must be able to read the media root.
type ClamdScanner struct {
	network string
	address string
	timeout time.Duration
}

func (self *ClamdScanner) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, self.network, self.address)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	deadline := time.Now().Add(self.timeout)
	ctx_deadline, ok := ctx.Deadline()
	if ok && ctx_deadline.Before(deadline) {
		deadline = ctx_deadline
	}
	_ = conn.SetDeadline(deadline)

	return conn, nil
}

// Send a null terminated command and read the null separated
// replies until the daemon closes the connection.
func (self *ClamdScanner) command(
	ctx context.Context, command string) ([]string, error) {
	conn, err := self.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_, err = conn.Write([]byte("z" + command + "\x00"))
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	result := []string{}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitNull)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			result = append(result, line)
		}
	}

	err = scanner.Err()
	if err != nil {
		return result, errors.Wrap(err, 0)
	}
	return result, nil
}

func (self *ClamdScanner) Ping(ctx context.Context) error {
	replies, err := self.command(ctx, "PING")
	if err != nil {
		return err
	}
	if len(replies) == 0 || replies[0] != "PONG" {
		return errors.Errorf("unexpected reply to PING: %v", replies)
	}
	return nil
}

// Scans the directory with all the daemon's threads. Returns the
// verdicts for infected files. Files clamd could not scan are
// reported in the error but do not hide the verdicts for the rest.
func (self *ClamdScanner) ScanDirectory(
	ctx context.Context, path string) (map[string]string, error) {
	replies, err := self.command(ctx, "MULTISCAN "+path)
	if err != nil {
		return nil, err
	}

	return parseScanReplies(replies)
}

// Replies look like
//
//	/path/to/file: Win.Test.EICAR_HDB-1 FOUND
//	/path/to/file: OK
//	/path/to/file: lstat() failed: No such file or directory. ERROR
func parseScanReplies(replies []string) (map[string]string, error) {
	result := make(map[string]string)
	failures := []string{}

	for _, line := range replies {
		idx := strings.LastIndex(line, ": ")
		if idx < 0 {
			failures = append(failures, line)
			continue
		}
		path, status := line[:idx], line[idx+2:]

		switch {
		case strings.HasSuffix(status, " FOUND"):
			result[path] = strings.TrimSuffix(status, " FOUND")

		case strings.HasSuffix(status, " ERROR"):
			failures = append(failures, line)
		}
	}

	if len(failures) > 0 {
		return result, errors.Errorf("clamd: %v", strings.Join(failures, "; "))
	}
	return result, nil
}

func splitNull(data []byte, at_eof bool) (int, []byte, error) {
	if at_eof && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if at_eof {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func NewClamdScanner(config_obj *config_proto.AntivirusConfig) *ClamdScanner {
	network := "unix"
	if !strings.HasPrefix(config_obj.ClamdSocket, "/") {
		network = "tcp"
	}

	timeout := time.Duration(config_obj.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	return &ClamdScanner{
		network: network,
		address: config_obj.ClamdSocket,
		timeout: timeout,
	}
}
