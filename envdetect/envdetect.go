// Package envdetect describes the process's execution environment. The
// snapshot is computed once by the composition root and passed down
// explicitly; nothing here is a package-level cache.
package envdetect

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	containerEnvFile = "/run/.containerenv"
	dockerEnvFile    = "/.dockerenv"
)

// ContainerInfo is the podman-written /run/.containerenv metadata.
type ContainerInfo struct {
	Engine   string
	Name     string
	ID       string
	Image    string
	ImageID  string
	Rootless bool
}

// Environment is an immutable snapshot.
type Environment struct {
	Container  bool
	Privileged bool // CAP_SYS_ADMIN in the bounding set, i.e. --privileged
	HostPID    bool // --pid=host
	Info       *ContainerInfo
}

// Detect probes the running system under root ("/" in production).
func Detect(root string) (*Environment, error) {
	env := &Environment{}

	priv, err := unix.PrctlRetInt(unix.PR_CAPBSET_READ, unix.CAP_SYS_ADMIN, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("read capability bounding set: %w", err)
	}
	env.Privileged = priv == 1

	info, err := readContainerEnv(filepath.Join(root, containerEnvFile))
	switch {
	case err == nil:
		env.Container, env.Info = true, info
	case errors.Is(err, fs.ErrNotExist):
		env.Container = exists(filepath.Join(root, dockerEnvFile))
	default:
		return nil, err
	}

	if env.HostPID, err = hostPID(); err != nil {
		return nil, err
	}
	return env, nil
}

// Cached returns a function that runs Detect at most once.
func Cached(root string) func() (*Environment, error) {
	return sync.OnceValues(func() (*Environment, error) { return Detect(root) })
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// readContainerEnv parses key="value" lines; unknown keys are ignored.
func readContainerEnv(path string) (*ContainerInfo, error) {
	f, err := os.Open(path) //nolint:gosec // fixed well-known path
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck
	info, err := parseContainerEnv(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return info, nil
}

func parseContainerEnv(r io.Reader) (*ContainerInfo, error) {
	info := &ContainerInfo{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		if uq, err := strconv.Unquote(v); err == nil {
			v = uq
		}
		switch k {
		case "engine":
			info.Engine = v
		case "name":
			info.Name = v
		case "id":
			info.ID = v
		case "image":
			info.Image = v
		case "imageid":
			info.ImageID = v
		case "rootless":
			info.Rootless = v == "1"
		}
	}
	return info, sc.Err()
}

// hostPID: a parent owned by another uid means we see our real parent through
// a uid mapping; otherwise a parent in a different mount namespace does.
func hostPID() (bool, error) {
	ppid := os.Getppid()
	if ppid <= 1 {
		return false, nil
	}
	parent := "/proc/" + strconv.Itoa(ppid)
	st, err := os.Stat(parent)
	if err != nil {
		return false, fmt.Errorf("stat parent process: %w", err)
	}
	if sys, ok := st.Sys().(*syscall.Stat_t); ok && int(sys.Uid) != os.Getuid() {
		return true, nil
	}
	parentNS, err := os.Readlink(parent + "/ns/mnt")
	if err != nil {
		return false, fmt.Errorf("read parent mount namespace: %w", err)
	}
	selfNS, err := os.Readlink("/proc/self/ns/mnt")
	if err != nil {
		return false, fmt.Errorf("read own mount namespace: %w", err)
	}
	return parentNS != selfNS, nil
}
