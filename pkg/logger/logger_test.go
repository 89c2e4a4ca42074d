package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorHandlerFormatsComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(ComponentExchange, &buf, false)

	log.With("audience", "data-service-client").Info("exchange complete", "status", 200)

	line := buf.String()
	assert.Contains(t, line, "[TOKEN-EXCHANGE]")
	assert.Contains(t, line, "exchange complete")
	assert.Contains(t, line, "audience=data-service-client")
	assert.Contains(t, line, "status=200")
	assert.NotContains(t, line, colorReset)
}

func TestColorHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := &Logger{
		Logger:    slog.New(NewColorHandler(&buf, ComponentCache, false, slog.LevelInfo)),
		component: ComponentCache,
	}

	log.Cache("hit")
	assert.Empty(t, buf.String())

	log.Info("visible")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestFlowKeepsArgs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(ComponentDownstream, &buf, false)

	log.Flow(DirectionOutgoing, "Calling data-service", "url", "http://localhost:8082/api/data")

	assert.Contains(t, buf.String(), "-> Calling data-service")
	assert.Contains(t, buf.String(), "url=http://localhost:8082/api/data")
}
