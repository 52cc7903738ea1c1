//go:build integration

package llm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/dispatch"
	"github.com/bobmcallan/toolmesh/internal/httpx"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	ollamaImage = "ollama/ollama:0.5.7"
	ollamaModel = "qwen2.5:0.5b"
)

// startOllama runs an Ollama server with a small model pulled and returns its /api/chat URL.
func startOllama(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	c, err := testcontainers.Run(ctx, ollamaImage,
		testcontainers.WithExposedPorts("11434/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/").WithPort("11434/tcp").WithStartupTimeout(2*time.Minute),
		),
	)
	require.NoError(t, err, "start ollama container")

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cleanupCancel()
		if t.Failed() {
			collectLogs(cleanupCtx, c, t.Name())
		}
		c.Terminate(cleanupCtx)
	})

	code, out, err := c.Exec(ctx, []string{"ollama", "pull", ollamaModel})
	require.NoError(t, err, "pull model")
	if code != 0 {
		msg, _ := io.ReadAll(out)
		t.Fatalf("ollama pull exited %d: %s", code, msg)
	}

	endpoint, err := c.PortEndpoint(ctx, "11434/tcp", "http")
	require.NoError(t, err)
	return endpoint + "/api/chat"
}

// collectLogs saves container output under tests/results for a failed test.
func collectLogs(ctx context.Context, c testcontainers.Container, name string) {
	reader, err := c.Logs(ctx)
	if err != nil {
		return
	}
	defer reader.Close()

	logs, err := io.ReadAll(reader)
	if err != nil {
		return
	}
	dir := filepath.Join("testdata", "results")
	os.MkdirAll(dir, 0755)
	os.WriteFile(filepath.Join(dir, strings.ReplaceAll(name, "/", "_")+".log"), logs, 0644)
}

func TestOllama_Container(t *testing.T) {
	url := startOllama(t)
	logger := common.NewSilentLogger()
	p := NewOllama(url, httpx.New(logger, httpx.WithTimeout(5*time.Minute)), logger)

	t.Run("plain completion", func(t *testing.T) {
		msg, err := p.Complete(t.Context(), Request{
			Model: ollamaModel,
			Messages: []Message{
				{Role: RoleUser, Content: "Reply with the single word: pong"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, RoleAssistant, msg.Role)
		assert.NotEmpty(t, strings.TrimSpace(msg.Content))
	})

	t.Run("tools are accepted", func(t *testing.T) {
		weather := dispatch.FunctionSpec{
			Name:        "get_forecast",
			Description: "Get the weather forecast for a city.",
			Parameters: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{"city": {Type: "string", Description: "city name"}},
				Required:   []string{"city"},
			},
		}
		msg, err := p.Complete(t.Context(), Request{
			Model:    ollamaModel,
			Messages: []Message{{Role: RoleUser, Content: "What is the weather in Oslo? Use the tool."}},
			Tools:    []dispatch.FunctionSpec{weather},
		})
		require.NoError(t, err)
		for _, call := range msg.ToolCalls {
			assert.NotEmpty(t, call.ID, "synthesized call id")
			assert.Equal(t, "get_forecast", call.Name)
		}
	})

	t.Run("unknown model is an endpoint error", func(t *testing.T) {
		_, err := p.Complete(t.Context(), Request{
			Model:    fmt.Sprintf("missing-%d", time.Now().UnixNano()),
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		})
		assert.ErrorIs(t, err, ErrModelEndpoint)
	})
}
