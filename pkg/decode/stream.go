package decode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"restkit/pkg/core"
)

// StreamOptions controls a single Stream call.
type StreamOptions struct {
	// PreserveOriginal attaches the raw body to the result.
	PreserveOriginal bool
	CorrelationID    int64
	// Elapsed is copied into the result's ResponseTime.
	Elapsed time.Duration
}

// Stream decodes T from r. The body is read fully into memory only when the
// original text must be kept: PreserveOriginal or the decoder's
// OutputOriginalData flag. Otherwise it is decoded incrementally, and on
// failure the raw text is recovered only if r can seek back to its start.
//
// On the incremental path a failure without a recoverable body reports as
// Position the number of bytes consumed, not the offset of the offending
// character, because the decoder reads ahead. Content after the first JSON
// value is a MalformedSyntax failure on both paths.
//
// Decoding failures are reported in the result. The returned error is set
// only when reading r fails or ctx ends.
func Stream[T any](ctx context.Context, d *Decoder, r io.Reader, opts StreamOptions) (core.Result[T], error) {
	id := opts.CorrelationID
	if r == nil {
		res := Text[T](d, nil, id)
		res.ResponseTime = opts.Elapsed
		return res, nil
	}

	cr := &ctxReader{ctx: ctx, r: r}
	keep := opts.PreserveOriginal || d.outputOriginalData

	if keep {
		data, err := io.ReadAll(cr)
		if err != nil {
			return core.Result[T]{}, err
		}
		d.logger.Trace().Int64("request_id", id).Str("data", string(data)).Msg("response received")

		res := Text[T](d, data, id)
		res.OriginalData = string(data)
		res.ResponseTime = opts.Elapsed
		return res, nil
	}

	v, err := decodeStream[T](cr)
	if cr.err != nil {
		return core.Result[T]{}, cr.err
	}
	if err == nil {
		res := core.Success(v)
		res.CorrelationID = id
		res.ResponseTime = opts.Elapsed
		return res, nil
	}

	res := d.streamFailure(r, cr.n, err, id)
	res.ResponseTime = opts.Elapsed
	return core.FailureAs[T](res), nil
}

func decodeStream[T any](r io.Reader) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during conversion: %v", rec)
		}
	}()
	dec := api.NewDecoder(r)
	if err = dec.Decode(&v); err != nil {
		return v, err
	}
	if dec.More() {
		return v, errTrailingData
	}
	return v, nil
}

// streamFailure builds the failure for a stream decode that consumed n bytes.
func (d *Decoder) streamFailure(r io.Reader, n int64, err error, id int64) core.Result[struct{}] {
	if seeker, ok := r.(io.Seeker); ok {
		if _, serr := seeker.Seek(0, io.SeekStart); serr == nil {
			if data, rerr := io.ReadAll(r); rerr == nil {
				probe := &Decoder{logger: zerolog.Nop()}
				if res := Text[struct{}](probe, data, id); !res.OK() && res.Err.Kind != core.KindSchemaMismatch {
					d.logFailure(res.Err)
					return res
				}
				return d.failure(err, n, string(data), true, id)
			}
		}
	}

	if n == 0 {
		derr := &core.DeserializeError{
			Kind:          core.KindEmptyBody,
			Message:       prefix(id) + EmptyBodyMessage,
			Raw:           "",
			RawAvailable:  true,
			Position:      -1,
			CorrelationID: id,
		}
		d.logFailure(derr)
		return core.Failure[struct{}](derr)
	}
	return d.failure(err, n, core.RawUnavailable, false, id)
}

func (d *Decoder) failure(err error, n int64, raw string, available bool, id int64) core.Result[struct{}] {
	kind, pos := classify(err)
	if kind == core.KindUnknown && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		kind = core.KindMalformedSyntax
	}
	if kind == core.KindMalformedSyntax && pos < 0 {
		pos = int(n)
	}
	derr := &core.DeserializeError{
		Kind:          kind,
		Message:       prefix(id) + describe(kind, err, pos) + ", data: " + raw,
		Raw:           raw,
		RawAvailable:  available,
		Position:      pos,
		CorrelationID: id,
	}
	d.logFailure(derr)
	return core.Failure[struct{}](derr)
}

// ctxReader stops reading once ctx ends and remembers the first read error
// that is not io.EOF, so it can be told apart from a decoding failure.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
	n   int64
	err error
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return 0, err
	}
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		c.err = err
	}
	return n, err
}
