package librt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const DefaultDelimiter = "\n"

type (
	// TransformFunc is applied to every decoded frame before emission. It
	// runs to completion before the next frame is processed, so frames are
	// never transformed concurrently and arrival order is preserved.
	TransformFunc func(ctx context.Context, v any) (any, error)

	// EmitFunc receives decoded frames. Returning an error stops the
	// decode loop.
	EmitFunc func(v any) error

	DecoderOptions struct {
		// Delimiter is the frame separator. Defaults to "\n".
		Delimiter string
		// Transform, when set, maps every frame before emission.
		Transform TransformFunc
	}

	// ChunkDecoder turns an incrementally-arriving byte stream into an
	// ordered sequence of values, tolerating frames split anywhere by the
	// network. Complete frames are emitted on detection; the unterminated
	// tail is buffered. A rune split across reads stays in the buffer as
	// raw bytes until its continuation arrives, so multi-byte characters
	// survive arbitrary chunk boundaries.
	ChunkDecoder struct {
		buf       []byte
		delim     []byte
		transform TransformFunc
	}
)

func NewChunkDecoder(opts DecoderOptions) *ChunkDecoder {
	delim := opts.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}
	return &ChunkDecoder{
		delim:     []byte(delim),
		transform: opts.Transform,
	}
}

// Feed appends chunk to the buffer and emits every complete frame found,
// in order. The element after the last delimiter is retained as the new
// buffer since it may be an incomplete frame.
func (d *ChunkDecoder) Feed(ctx context.Context, chunk []byte, emit EmitFunc) error {
	d.buf = append(d.buf, chunk...)

	parts := bytes.Split(d.buf, d.delim)
	d.buf = append([]byte(nil), parts[len(parts)-1]...)

	for _, raw := range parts[:len(parts)-1] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.emitFrame(ctx, raw, emit); err != nil {
			return err
		}
	}

	return nil
}

// Flush emits the remaining buffer as the final frame, if non-blank. Call
// it once the underlying stream reports end-of-data.
func (d *ChunkDecoder) Flush(ctx context.Context, emit EmitFunc) error {
	raw := d.buf
	d.buf = nil
	return d.emitFrame(ctx, raw, emit)
}

// Decode drives the pull loop over r, feeding every read into the decoder
// and flushing on EOF. The context is checked after every read and every
// transform so cancellation stops the loop quietly without emitting
// further frames.
func (d *ChunkDecoder) Decode(ctx context.Context, r io.Reader, emit EmitFunc) error {
	chunk := make([]byte, 4096)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(chunk)
		if n > 0 {
			if ferr := d.Feed(ctx, chunk[:n], emit); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return d.Flush(ctx, emit)
			}
			return errors.Wrap(err, "stream read")
		}
	}
}

// emitFrame applies the trim/parse/transform/emit pipeline to one raw
// frame. Blank frames are skipped. Both the parsed and the
// failed-to-parse-as-JSON paths emit a value; non-JSON frames are never an
// error.
func (d *ChunkDecoder) emitFrame(ctx context.Context, raw []byte, emit EmitFunc) error {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil
	}

	v := decodeFrame(text)

	if d.transform != nil {
		var err error
		if v, err = d.transform(ctx, v); err != nil {
			return errors.Wrap(err, "transform frame")
		}
		if err = ctx.Err(); err != nil {
			return err
		}
	}

	return emit(v)
}

// decodeFrame parses text as JSON, falling back to the raw trimmed text so
// the same decoder serves both structured and plain-text streams.
func decodeFrame(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text
	}
	return v
}
