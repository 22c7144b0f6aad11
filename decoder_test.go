package librt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(into *[]any) EmitFunc {
	return func(v any) error {
		*into = append(*into, v)
		return nil
	}
}

func TestDecoderFramesAcrossChunkBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
	}{
		{"single chunk", []string{"{\"a\":1}\n{\"b\":2}\n"}},
		{"split inside a frame", []string{"{\"a\":1", "}\n{\"b\":2}\n"}},
		{"split on the delimiter", []string{"{\"a\":1}", "\n", "{\"b\":2}", "\n"}},
		{"byte by byte", strings.Split("{\"a\":1}\n{\"b\":2}\n", "")},
	}

	want := []any{
		map[string]any{"a": float64(1)},
		map[string]any{"b": float64(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewChunkDecoder(DecoderOptions{})
			var got []any

			for _, chunk := range tt.chunks {
				require.NoError(t, dec.Feed(context.Background(), []byte(chunk), collect(&got)))
			}
			require.NoError(t, dec.Flush(context.Background(), collect(&got)))

			assert.Equal(t, want, got, "frames must survive arbitrary chunk boundaries")
		})
	}
}

func TestDecoderPlainTextFallback(t *testing.T) {
	dec := NewChunkDecoder(DecoderOptions{})
	var got []any

	require.NoError(t, dec.Feed(context.Background(), []byte("hello\nworld"), collect(&got)))
	require.NoError(t, dec.Flush(context.Background(), collect(&got)))

	assert.Equal(t, []any{"hello", "world"}, got, "non-JSON frames are values, not errors")
}

func TestDecoderSkipsBlankFrames(t *testing.T) {
	dec := NewChunkDecoder(DecoderOptions{})
	var got []any

	require.NoError(t, dec.Feed(context.Background(), []byte("\n\n  \n a \n\n"), collect(&got)))
	require.NoError(t, dec.Flush(context.Background(), collect(&got)))

	assert.Equal(t, []any{"a"}, got)
}

func TestDecoderCustomDelimiter(t *testing.T) {
	dec := NewChunkDecoder(DecoderOptions{Delimiter: "||"})
	var got []any

	require.NoError(t, dec.Feed(context.Background(), []byte("1||2|"), collect(&got)))
	require.NoError(t, dec.Feed(context.Background(), []byte("|3"), collect(&got)))
	require.NoError(t, dec.Flush(context.Background(), collect(&got)))

	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, got)
}

func TestDecoderSplitRuneSurvives(t *testing.T) {
	dec := NewChunkDecoder(DecoderOptions{})
	var got []any

	full := []byte("héllo wörld\n")
	// Cut inside the two-byte é sequence.
	require.NoError(t, dec.Feed(context.Background(), full[:2], collect(&got)))
	require.Empty(t, got)
	require.NoError(t, dec.Feed(context.Background(), full[2:], collect(&got)))

	assert.Equal(t, []any{"héllo wörld"}, got)
}

func TestDecoderTransformPreservesOrder(t *testing.T) {
	dec := NewChunkDecoder(DecoderOptions{
		Transform: func(_ context.Context, v any) (any, error) {
			// Vary the latency so any concurrent transform would reorder.
			if v == "a" {
				time.Sleep(20 * time.Millisecond)
			}
			return v.(string) + "!", nil
		},
	})
	var got []any

	require.NoError(t, dec.Feed(context.Background(), []byte("a\nb\nc\n"), collect(&got)))

	assert.Equal(t, []any{"a!", "b!", "c!"}, got)
}

func TestDecoderTransformErrorStopsLoop(t *testing.T) {
	boom := errors.New("boom")
	dec := NewChunkDecoder(DecoderOptions{
		Transform: func(_ context.Context, v any) (any, error) {
			if v == float64(2) {
				return nil, boom
			}
			return v, nil
		},
	})
	var got []any

	err := dec.Feed(context.Background(), []byte("1\n2\n3\n"), collect(&got))

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []any{float64(1)}, got, "no frame may be emitted after the failure")
}

func TestDecoderEmitErrorStopsLoop(t *testing.T) {
	boom := errors.New("consumer down")
	dec := NewChunkDecoder(DecoderOptions{})
	var emitted int

	err := dec.Feed(context.Background(), []byte("1\n2\n3\n"), func(any) error {
		emitted++
		if emitted == 2 {
			return boom
		}
		return nil
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, emitted)
}

func TestDecoderCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dec := NewChunkDecoder(DecoderOptions{
		Transform: func(ctx context.Context, v any) (any, error) {
			// Cancel mid-stream; the loop must stop at the next check.
			cancel()
			return v, nil
		},
	})
	var got []any

	err := dec.Feed(ctx, []byte("1\n2\n3\n"), collect(&got))

	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, len(got), 1, "no values may be emitted once cancellation is observed")
}

func TestDecoderDecodeReader(t *testing.T) {
	r := strings.NewReader("{\"seq\":1}\nplain\n{\"seq\":3}")
	dec := NewChunkDecoder(DecoderOptions{})
	var got []any

	err := dec.Decode(context.Background(), r, collect(&got))

	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"seq": float64(1)},
		"plain",
		map[string]any{"seq": float64(3)},
	}, got, "the unterminated tail must be flushed at end-of-stream")
}

func TestDecoderDecodeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dec := NewChunkDecoder(DecoderOptions{})
	err := dec.Decode(ctx, strings.NewReader("1\n2\n"), func(any) error {
		t.Error("no emission after cancellation")
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
}
