package librt

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer

	l := NewWriterLogger(&buf).WithField("net", "ws_transport")
	l.Infof("connected to %s", "wss://host.test")

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "net=ws_transport")
	assert.Contains(t, out, "connected to wss://host.test")
}

func TestWriterLoggerFieldsDoNotLeakBetweenChildren(t *testing.T) {
	var buf bytes.Buffer

	root := NewWriterLogger(&buf)
	root.WithField("a", 1)
	root.Warnln("plain")

	assert.NotContains(t, buf.String(), "a=1")
}

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer

	l := NewZerologLogger(zerolog.New(&buf)).WithField("channel", "stream")
	l.Errorf("stream lost after %d frames", 3)

	out := buf.String()
	assert.Contains(t, out, `"channel":"stream"`)
	assert.Contains(t, out, "stream lost after 3 frames")
	assert.Contains(t, out, `"level":"error"`)
}

func TestNopLoggerIsSilent(t *testing.T) {
	l := NopLogger().WithField("k", "v")
	l.Debugf("nothing %d", 1)
	l.Errorln("nothing either")
}
