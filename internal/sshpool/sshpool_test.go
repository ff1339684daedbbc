package sshpool

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/cwatcher/cwatcher/internal/logging"
)

// pipeDialer hands an in-memory net.Pipe connection to an in-process test
// SSH server instead of dialing real TCP, the way teleport's sshutils
// tests exercise the ssh package without a real network (grounded on
// _examples/gravitational-teleport/api/utils/sshutils test shapes).
type pipeDialer struct {
	serverConfig *ssh.ServerConfig
	reject       bool
}

func (d *pipeDialer) Dial(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	clientConn, serverConn := net.Pipe()
	go d.serve(serverConn)

	c, chans, reqs, err := ssh.NewClientConn(clientConn, addr, config)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func (d *pipeDialer) serve(conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, d.serverConfig)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go handleSession(ch, chReqs)
	}
}

func handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}
		if req.WantReply {
			req.Reply(true, nil)
		}
		io.WriteString(ch, "ok\n")
		ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
		return
	}
}

func testServerConfig(t *testing.T, password string) *ssh.ServerConfig {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, errors.New("auth failed")
		},
	}
	cfg.AddHostKey(signer)
	return cfg
}

func TestPool_ExecuteSucceeds(t *testing.T) {
	dialer := &pipeDialer{serverConfig: testServerConfig(t, "secret")}
	p := NewWithDialer(dialer, logging.Noop())
	defer p.Close()

	cfg := AuthConfig{User: "monitor", Host: "198.51.100.1", Port: 22, Password: "secret", ConnectTimeout: time.Second, CommandTimeout: 2 * time.Second}

	res, err := p.Execute(context.Background(), cfg, "echo ok", time.Second)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
	if res.Stdout != "ok\n" {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}

func TestPool_AuthFailureSurfacesConnectError(t *testing.T) {
	dialer := &pipeDialer{serverConfig: testServerConfig(t, "secret")}
	p := NewWithDialer(dialer, logging.Noop())
	defer p.Close()

	cfg := AuthConfig{User: "monitor", Host: "198.51.100.2", Port: 22, Password: "wrong", ConnectTimeout: time.Second, CommandTimeout: time.Second, RetryCount: 1}

	_, err := p.Execute(context.Background(), cfg, "echo ok", time.Second)
	if err == nil {
		t.Fatalf("expected auth failure error")
	}
}

func TestPool_PoolReusesSessionAcrossCalls(t *testing.T) {
	dialer := &pipeDialer{serverConfig: testServerConfig(t, "secret")}
	p := NewWithDialer(dialer, logging.Noop())
	defer p.Close()

	cfg := AuthConfig{User: "monitor", Host: "198.51.100.3", Port: 22, Password: "secret", ConnectTimeout: time.Second, CommandTimeout: time.Second, PoolCap: 2}

	for i := 0; i < 3; i++ {
		if _, err := p.Execute(context.Background(), cfg, "echo ok", time.Second); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}

	stats := p.Stats(cfg)
	if stats.TotalDials == 0 {
		t.Fatalf("expected at least one dial recorded")
	}
	if stats.TotalDials > 3 {
		t.Fatalf("expected session reuse to keep dial count low, got %d", stats.TotalDials)
	}
}

func TestPool_TestProbe(t *testing.T) {
	dialer := &pipeDialer{serverConfig: testServerConfig(t, "secret")}
	p := NewWithDialer(dialer, logging.Noop())
	defer p.Close()

	cfg := AuthConfig{User: "monitor", Host: "198.51.100.4", Port: 22, Password: "secret", ConnectTimeout: time.Second, CommandTimeout: time.Second}
	res := p.Test(context.Background(), cfg)
	if !res.OK {
		t.Fatalf("expected probe to succeed: %s", res.Message)
	}
}
