package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
	sum := sha256.Sum256([]byte("hello"))

	var out bytes.Buffer
	err := run(context.Background(), []string{"hash", "--algorithm", "sha256", path}, &out, zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:])+"  "+path+"\n", out.String())
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no command", args: nil, wantErr: "usage"},
		{name: "unknown command", args: []string{"shred"}, wantErr: `unknown command "shred"`},
		{name: "hash without file", args: []string{"hash"}, wantErr: "hash needs <file>"},
		{name: "hash bad algorithm", args: []string{"hash", "-a", "md4", "x"}, wantErr: "unsupported algorithm"},
		{name: "clean without paths", args: []string{"clean", "only-one"}, wantErr: "clean needs <in> <out>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args, &bytes.Buffer{}, zerolog.Nop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunCleanWithoutToolsKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("UPLOAD_SCRATCH_DIR", filepath.Join(dir, "scratch"))
	t.Setenv("PATH", dir)

	in := filepath.Join(dir, "in.txt")
	dst := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(in, []byte("plain text"), 0o600))

	var out bytes.Buffer
	err := run(context.Background(), []string{"clean", in, dst}, &out, zerolog.Nop())

	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(got))
	assert.Contains(t, out.String(), `"cleaned": false`)
}
