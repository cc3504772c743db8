package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/vectorstore/memory"
)

func TestNewApp_Defaults(t *testing.T) {
	a, err := newApp(config.Default(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.IsType(t, &memory.Builder{}, a.builder)
	assert.Equal(t, 5, a.service.K())
}

func TestNewApp_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Chunk.Overlap = cfg.Chunk.Size
	_, err := newApp(cfg, nil)
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestNewApp_OpenAIRequiresKeyForHostedEndpoint(t *testing.T) {
	t.Setenv("DOCQA_TEST_MISSING_KEY", "")
	cfg, err := config.Parse([]byte(`
embedding:
  type: openai
  openai:
    api_key_env: DOCQA_TEST_MISSING_KEY
`))
	require.NoError(t, err)
	_, err = newApp(cfg, nil)
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestRunAsk(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("chunk: {size: 60, overlap: 0}\nlog: {level: error}\n"), 0o644))
	docPath := filepath.Join(dir, "go.txt")
	require.NoError(t, os.WriteFile(docPath, []byte(
		"Go has garbage collection.\n\nGoroutines are scheduled by the runtime.\n\nInterfaces are satisfied implicitly.\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, runAsk(context.Background(), &out, cfgPath, docPath, 2, "who schedules goroutines?"))

	lines := strings.Split(out.String(), "\n")
	assert.Equal(t, "Goroutines are scheduled by the runtime.", lines[0])
	assert.Contains(t, out.String(), "[1] score=")
	assert.Contains(t, out.String(), "[2] score=")
	assert.NotContains(t, out.String(), "[3]")
}

func TestRunAsk_MissingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log: {level: error}\n"), 0o644))
	err := runAsk(context.Background(), &bytes.Buffer{}, cfgPath, filepath.Join(dir, "nope.txt"), -1, "q")
	require.Error(t, err)
}
