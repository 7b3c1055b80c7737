package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/perfctl/internal/testutil/testlog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func TestJoinCommandEscaping(t *testing.T) {
	testlog.Start(t)
	got := joinCommand("echo", []string{"a b", "quote'v"})
	want := "'echo' 'a b' 'quote'\"'\"'v'"
	if got != want {
		t.Fatalf("unexpected joined command\nwant: %s\ngot:  %s", want, got)
	}
	if joinCommand("", nil) != "''" {
		t.Fatalf("expected empty command to escape to ''")
	}
}

func TestDetachedCommand(t *testing.T) {
	testlog.Start(t)
	name, args := Detached("/opt/perfagent", []string{"--interval", "5s"}, "")
	if name != "sh" || len(args) != 2 || args[0] != "-c" {
		t.Fatalf("unexpected detached command: %s %v", name, args)
	}
	want := "nohup '/opt/perfagent' '--interval' '5s' >/dev/null 2>&1 </dev/null &"
	if args[1] != want {
		t.Fatalf("unexpected script\nwant: %s\ngot:  %s", want, args[1])
	}
	_, args = Detached("/opt/perfagent", nil, "/tmp/agent log")
	if !strings.Contains(args[1], ">'/tmp/agent log' 2>&1") {
		t.Fatalf("expected log redirect, got %s", args[1])
	}
}

func TestSSHRunnerAddressValidation(t *testing.T) {
	testlog.Start(t)
	r := SSHRunner{}
	if _, err := r.address(); err == nil {
		t.Fatalf("expected host validation error")
	}

	r.Host = "node-a"
	addr, err := r.address()
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	if addr != "node-a:22" {
		t.Fatalf("expected default ssh port, got %q", addr)
	}

	r = SSHConfig{Port: "2222"}.For("node-b")
	if addr, _ := r.address(); addr != "node-b:2222" {
		t.Fatalf("expected configured port, got %q", addr)
	}
}

func TestSSHRunnerClientConfigValidation(t *testing.T) {
	testlog.Start(t)
	r := SSHRunner{Host: "node-a"}
	if _, err := r.clientConfig(); err == nil {
		t.Fatalf("expected missing user validation error")
	}
	r.User = "root"
	if _, err := r.clientConfig(); err == nil {
		t.Fatalf("expected missing key validation error")
	}
}

func TestLocalRunner(t *testing.T) {
	testlog.Start(t)
	out, err := LocalRunner{}.Run(context.Background(), "sh", "-c", "echo hello")
	if err != nil || strings.TrimSpace(out) != "hello" {
		t.Fatalf("unexpected run out=%q err=%v", out, err)
	}

	var stdout bytes.Buffer
	if err := (LocalRunner{}).RunStreaming(context.Background(), "sh", []string{"-c", "echo streamed"}, &stdout, nil); err != nil {
		t.Fatalf("run streaming: %v", err)
	}
	if strings.TrimSpace(stdout.String()) != "streamed" {
		t.Fatalf("unexpected streamed output %q", stdout.String())
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "agent")
	if err := os.WriteFile(src, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write src: %v", err)
	}
	dst := filepath.Join(dir, "deploy", "agent")
	if err := (LocalRunner{}).Copy(context.Background(), src, dst); err != nil {
		t.Fatalf("copy: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("stat dst: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("expected mode 0755, got %o", info.Mode().Perm())
	}
	if err := (LocalRunner{}).Copy(context.Background(), filepath.Join(dir, "missing"), dst); !errors.Is(err, ErrCopy) {
		t.Fatalf("expected ErrCopy, got %v", err)
	}
}

// sshTestServer executes "exec" requests with the local shell.
type sshTestServer struct {
	addr       string
	clientKey  string
	knownHosts string
}

func startSSHServer(t *testing.T) sshTestServer {
	t.Helper()
	dir := t.TempDir()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("client key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}
	keyPath := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write client key: %v", err)
	}
	authorized, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		t.Fatalf("client public key: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(conn, cfg)
		}
	}()

	addr := ln.Addr().String()
	knownHostsPath := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{addr}, hostSigner.PublicKey()) + "\n"
	if err := os.WriteFile(knownHostsPath, []byte(line), 0o600); err != nil {
		t.Fatalf("write known hosts: %v", err)
	}
	return sshTestServer{addr: addr, clientKey: keyPath, knownHosts: knownHostsPath}
}

func serveSSHConn(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, chReqs)
	}
}

func serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		req.Reply(true, nil)

		cmd := exec.Command("sh", "-c", payload.Command)
		cmd.Stdin = ch
		cmd.Stdout = ch
		cmd.Stderr = ch.Stderr()
		status := uint32(0)
		if err := cmd.Run(); err != nil {
			status = 1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				status = uint32(exitErr.ExitCode())
			}
		}
		ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		return
	}
}

func (s sshTestServer) runner() SSHRunner {
	host, port, _ := net.SplitHostPort(s.addr)
	return SSHConfig{
		User:           "perf",
		Port:           port,
		KeyPath:        s.clientKey,
		KnownHostsPath: s.knownHosts,
		Timeout:        5 * time.Second,
	}.For(host)
}

func TestSSHRunnerRunAndCopy(t *testing.T) {
	testlog.Start(t)
	srv := startSSHServer(t)
	r := srv.runner()
	ctx := context.Background()

	out, err := r.Run(ctx, "echo", "hello world")
	if err != nil {
		t.Fatalf("run: %v out=%q", err, out)
	}
	if strings.TrimSpace(out) != "hello world" {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := r.Run(ctx, "sh", "-c", "exit 4"); err == nil {
		t.Fatalf("expected exit error")
	}

	var stdout bytes.Buffer
	if err := r.RunStreaming(ctx, "echo", []string{"streamed"}, &stdout, nil); err != nil {
		t.Fatalf("run streaming: %v", err)
	}
	if strings.TrimSpace(stdout.String()) != "streamed" {
		t.Fatalf("unexpected streamed output %q", stdout.String())
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "perfagent")
	if err := os.WriteFile(src, []byte("binary payload"), 0o750); err != nil {
		t.Fatalf("write src: %v", err)
	}
	dst := filepath.Join(dir, "remote dir", "perfagent")
	if err := r.Copy(ctx, src, dst); err != nil {
		t.Fatalf("copy: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "binary payload" {
		t.Fatalf("unexpected copied file %q err=%v", got, err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("stat copied file: %v", err)
	}
	if info.Mode().Perm() != 0o750 {
		t.Fatalf("unexpected copied mode %o", info.Mode().Perm())
	}
}

func TestSSHRunnerRejectsUnknownHostKey(t *testing.T) {
	testlog.Start(t)
	srv := startSSHServer(t)
	r := srv.runner()
	if err := os.WriteFile(r.KnownHostsPath, nil, 0o600); err != nil {
		t.Fatalf("truncate known hosts: %v", err)
	}
	if _, err := r.Run(context.Background(), "true"); err == nil {
		t.Fatalf("expected host key verification failure")
	}

	r.InsecureSkipHostKeyChecking = true
	if _, err := r.Run(context.Background(), "true"); err != nil {
		t.Fatalf("expected insecure mode to connect: %v", err)
	}
}
