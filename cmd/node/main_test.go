package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/proofnode/internal/identity"
)

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"version"}, &out))
	assert.Equal(t, version+"\n", out.String())
}

func TestRegisterAndLogout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"register-node", "node-77", "--identity-file", path}, &out))
	assert.Contains(t, out.String(), "Registered node node-77")

	id, err := identity.NewStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "node-77", id)

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"logout", "--identity-file", path}, &out))
	assert.Contains(t, out.String(), "Logged out")

	_, err = identity.NewStore(path).Load()
	assert.ErrorIs(t, err, identity.ErrNotRegistered)
}

func TestIdentityFileFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	t.Setenv("NEXUS_IDENTITY_FILE", path)

	require.NoError(t, run(context.Background(), []string{"register-node", "from-env"}, &bytes.Buffer{}))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestRegisterRequiresID(t *testing.T) {
	err := run(context.Background(), []string{"register-node"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	err := run(context.Background(), []string{"start", "--speed", "plaid"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plaid")
}

// TestStartAnonymousOnce runs the real binary path with a shell prover.
func TestStartAnonymousOnce(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "prover.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat >/dev/null\necho step >&2\nprintf proof\n"), 0o755))

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"start",
		"--anonymous",
		"--just-once",
		"--max-threads", "1",
		"--cooldown", "1ms",
		"--log-format", "json",
		"--identity-file", filepath.Join(dir, "node.yaml"),
		"--prover", script,
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "anonymous")
}

func TestLogFatalIsReplaceable(t *testing.T) {
	orig := logFatal
	defer func() { logFatal = orig }()

	var got string
	logFatal = func(format string, args ...any) { got = fmt.Sprintf(format, args...) }

	logFatal("node: %v", "boom")
	assert.True(t, strings.HasPrefix(got, "node: boom"))
}
