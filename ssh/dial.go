package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/projecteru2/bootwatch/readiness"
)

var _ readiness.Prober = (*DialProber)(nil)

// DialProber opens a real SSH session from this process and runs "true".
// Use it when the guest port is reachable without going through the container.
type DialProber struct {
	Options Options
	// Signer overrides Options.KeyPath.
	Signer gossh.Signer
}

// NewDialProber loads the private key at opts.KeyPath.
func NewDialProber(opts Options) (*DialProber, error) {
	pem, err := os.ReadFile(opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := gossh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", opts.KeyPath, err)
	}
	return &DialProber{Options: opts, Signer: signer}, nil
}

// Probe ignores target; the address comes from Options.
func (p *DialProber) Probe(ctx context.Context, _ string) error {
	cfg := &gossh.ClientConfig{
		User:            p.Options.User,
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(p.Signer)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(), //nolint:gosec // guest host key is regenerated every boot
	}

	d := net.Dialer{Timeout: p.Options.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", p.Options.Addr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.Options.Addr(), err)
	}
	// unblock the handshake if ctx ends first
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	// ConnectTimeout covers dial and handshake, like ssh -o ConnectTimeout
	if p.Options.ConnectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(p.Options.ConnectTimeout))
	}
	c, chans, reqs, err := gossh.NewClientConn(conn, p.Options.Addr(), cfg)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ssh handshake %s: %w", p.Options.Addr(), err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := gossh.NewClient(c, chans, reqs)
	defer client.Close() //nolint:errcheck

	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session %s: %w", p.Options.Addr(), err)
	}
	defer sess.Close() //nolint:errcheck
	if err := sess.Run("true"); err != nil {
		return fmt.Errorf("ssh run %s: %w", p.Options.Addr(), err)
	}
	return nil
}
