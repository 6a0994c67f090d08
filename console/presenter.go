// Package console renders readiness progress on a terminal.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/projecteru2/bootwatch/progress"
	"github.com/projecteru2/bootwatch/progress/boot"
)

const clearLine = "\r\033[K"

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// BootPresenter shows a spinner with the latest boot message. On a non-tty
// it prints one line per message change and skips per-probe chatter.
// It is driven only by progress/boot events.
type BootPresenter struct {
	mu    sync.Mutex
	out   io.Writer
	tty   bool
	spin  spinner.Spinner
	msg   string
	frame int

	stop chan struct{}
	done chan struct{}
}

// NewBootPresenter writes to f, animating only when f is a terminal.
func NewBootPresenter(f *os.File) *BootPresenter {
	return newBootPresenter(f, term.IsTerminal(int(f.Fd()))) //nolint:gosec // fd fits in int
}

func newBootPresenter(out io.Writer, tty bool) *BootPresenter {
	return &BootPresenter{
		out:  out,
		tty:  tty,
		spin: spinner.Dot,
		msg:  boot.Describe(boot.Event{Phase: boot.PhaseMonitor}),
	}
}

// Tracker adapts the presenter for readiness.WithTracker.
func (p *BootPresenter) Tracker() progress.Tracker {
	return progress.NewTracker(p.handle)
}

// Start begins animating. Calling Start twice is a no-op.
func (p *BootPresenter) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	p.stop, p.done = make(chan struct{}), make(chan struct{})
	if !p.tty {
		fmt.Fprintln(p.out, p.msg) //nolint:errcheck
		close(p.done)
		return
	}
	p.drawLocked()
	go p.animate(p.stop, p.done)
}

// Finish stops the spinner and prints a final line for err (nil is success).
func (p *BootPresenter) Finish(err error) {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop = nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty {
		fmt.Fprint(p.out, clearLine) //nolint:errcheck
	}
	if err != nil {
		fmt.Fprintln(p.out, failStyle.Render("✗")+" "+boot.Describe(boot.Event{Phase: boot.PhaseFailed, Err: err})) //nolint:errcheck
		return
	}
	fmt.Fprintln(p.out, okStyle.Render("✓")+" "+p.msg) //nolint:errcheck
}

func (p *BootPresenter) handle(e boot.Event) {
	if e.Phase == boot.PhaseFailed {
		// Finish reports failures with the caller's final error
		return
	}
	msg := boot.Describe(e)

	p.mu.Lock()
	defer p.mu.Unlock()
	if msg == p.msg {
		return
	}
	p.msg = msg
	switch {
	case p.tty:
		if p.stop != nil {
			p.drawLocked()
		}
	case e.Phase != boot.PhaseProbe && p.stop != nil:
		fmt.Fprintln(p.out, msg) //nolint:errcheck
	}
}

func (p *BootPresenter) animate(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.spin.FPS)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			p.frame = (p.frame + 1) % len(p.spin.Frames)
			p.drawLocked()
			p.mu.Unlock()
		}
	}
}

func (p *BootPresenter) drawLocked() {
	fmt.Fprint(p.out, clearLine+spinnerStyle.Render(p.spin.Frames[p.frame])+p.msg) //nolint:errcheck
}
