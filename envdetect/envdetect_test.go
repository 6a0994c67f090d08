package envdetect

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContainerEnv(t *testing.T) {
	info, err := parseContainerEnv(strings.NewReader(`engine="podman-5.2.2"
name="bootwatch-vm1"
id="4f1c"
image="quay.io/fedora/fedora-bootc:42"
imageid="9a0b"
rootless=1
garbage line
`))
	require.NoError(t, err)
	assert.Equal(t, &ContainerInfo{
		Engine:   "podman-5.2.2",
		Name:     "bootwatch-vm1",
		ID:       "4f1c",
		Image:    "quay.io/fedora/fedora-bootc:42",
		ImageID:  "9a0b",
		Rootless: true,
	}, info)
}

func TestDetectUnderRoot(t *testing.T) {
	root := t.TempDir()
	env, err := Detect(root)
	require.NoError(t, err)
	assert.False(t, env.Container)
	assert.Nil(t, env.Info)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "run"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, containerEnvFile), []byte(`name="vm"`+"\n"), 0o600))
	env, err = Detect(root)
	require.NoError(t, err)
	assert.True(t, env.Container)
	assert.Equal(t, "vm", env.Info.Name)
}

func TestDockerEnvMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, dockerEnvFile), nil, 0o600))
	env, err := Detect(root)
	require.NoError(t, err)
	assert.True(t, env.Container)
	assert.Nil(t, env.Info)
}

func TestCachedRunsOnce(t *testing.T) {
	root := t.TempDir()
	get := Cached(root)
	first, err := get()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, dockerEnvFile), nil, 0o600))
	second, err := get()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.False(t, second.Container)
}
