package supervisor

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/bootwatch/status"
	"github.com/projecteru2/bootwatch/types"
)

type memWriter struct {
	mu      sync.Mutex
	records []types.StatusRecord
	fail    bool
}

func (m *memWriter) Update(rec types.StatusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memWriter) UpdateState(st types.BootState) error {
	return m.Update(types.NewStatusRecord(st))
}

func (m *memWriter) snapshot() []types.StatusRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.StatusRecord(nil), m.records...)
}

func TestParseNotify(t *testing.T) {
	got := ParseNotify("STATUS=Starting\nX_SYSTEMD_UNIT_ACTIVE=basic.target\nREADY=1\nREADY=0\nX_SYSTEMD_UNIT_ACTIVE=\nnoise")
	assert.Equal(t, []types.BootState{types.ReachedTarget("basic.target"), types.Ready()}, got)
	assert.Empty(t, ParseNotify(""))
}

func TestRelayWritesStatusFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor-status.json")
	w := status.NewWriter(path)
	require.NoError(t, Begin(w))

	rec, err := status.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, types.BootWaitingForSystemd, rec.State.Kind)

	in := "X_SYSTEMD_UNIT_ACTIVE=sysinit.target\nX_SYSTEMD_UNIT_ACTIVE=multi-user.target\nREADY=1\n"
	require.NoError(t, Relay(context.Background(), strings.NewReader(in), w))

	rec, err = status.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, rec.State.IsReady())
}

func TestRelayContinuesPastWriteFailures(t *testing.T) {
	w := &memWriter{fail: true}
	require.NoError(t, Relay(context.Background(), strings.NewReader("READY=1\n"), w))
	assert.Empty(t, w.snapshot())
}

func TestMarkUnsupported(t *testing.T) {
	w := &memWriter{}
	require.NoError(t, MarkUnsupported(w))
	require.Len(t, w.snapshot(), 1)
	assert.True(t, w.snapshot()[0].NoReporting)
}

func TestServeOneMessagePerConnection(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	w := &memWriter{}
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, l, w) }()

	for _, msg := range []string{"X_SYSTEMD_UNIT_ACTIVE=basic.target\n", "READY=1\nSTATUS=ok\n"} {
		conn, err := net.Dial("tcp", l.Addr().String())
		require.NoError(t, err)
		_, err = conn.Write([]byte(msg))
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}

	require.Eventually(t, func() bool { return len(w.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	recs := w.snapshot()
	assert.Equal(t, "basic.target", recs[0].State.Target)
	assert.True(t, recs[1].State.IsReady())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNotifySocketCredential(t *testing.T) {
	assert.Equal(t, "io.systemd.credential:vmm.notify_socket=vsock-stream:2:9999", HostNotifySocketCredential(9999))
	assert.Equal(t, "io.systemd.credential:vmm.notify_socket=vsock-stream:3:1", NotifySocketCredential(3, 1))
}
