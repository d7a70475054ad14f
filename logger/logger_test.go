package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	l, err := Init(Options{Level: "debug", JSON: true, Output: &buf})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	WithComponent("controller").Info("hello")
	assert.Contains(t, buf.String(), `"component":"controller"`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	Warn(Fields{"sample": "a"}, "careful")
	assert.Contains(t, buf.String(), `"sample":"a"`)
}

func TestInit_BadLevel(t *testing.T) {
	_, err := Init(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestInit_File(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "eval.log")
	_, err := Init(Options{File: file, Output: &buf})
	require.NoError(t, err)

	Info(nil, "to both")
	assert.Contains(t, buf.String(), "to both")
	assert.FileExists(t, file)
}

func TestWithRunID(t *testing.T) {
	entry, id := WithRunID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, entry.Data[RunIDKey])
}
