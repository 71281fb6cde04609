package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileIsAppended(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	for _, msg := range []string{"first", "second"} {
		log, closer := New(Options{File: path, Stderr: &bytes.Buffer{}})
		log.Info(msg)
		require.NoError(t, closer.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first")
	assert.Contains(t, lines[1], "second")
}

func TestUnwritableFileDegradesToStderr(t *testing.T) {
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "missing", "server.log")

	log, closer := New(Options{File: path, Stderr: &stderr})
	defer closer.Close()
	log.Info("still serving")

	out := stderr.String()
	assert.Contains(t, out, "cannot open log file")
	assert.Contains(t, out, "still serving")
}

func TestLevel(t *testing.T) {
	var stderr bytes.Buffer

	log, _ := New(Options{Level: "warn", JSON: true, Stderr: &stderr})
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())

	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), `"msg":"shown"`)

	log, _ = New(Options{Level: "loud", Stderr: &stderr})
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}
