// Package decode turns raw response bodies into typed results.
//
// Buffered bodies are decoded in two stages: DecodeText parses the text into a
// Node tree, separating syntax failures from everything else, and Value
// converts a Node into the target type. Stream decodes a body incrementally
// and only materializes it when the original text was requested or a failure
// needs it for diagnostics.
package decode

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/decoder"
	"github.com/rs/zerolog"

	"restkit/pkg/core"
)

// EmptyBodyMessage is the failure message for empty or absent input.
const EmptyBodyMessage = "Empty data object received"

// api keeps numbers as json.Number so large integers survive the tree stage.
var api = sonic.Config{UseNumber: true}.Froze()

// Decoder decodes response bodies and logs failures.
type Decoder struct {
	logger             zerolog.Logger
	outputOriginalData bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// WithOutputOriginalData makes every stream decode keep the raw text.
func WithOutputOriginalData(enabled bool) Option {
	return func(d *Decoder) {
		d.outputOriginalData = enabled
	}
}

// New creates a Decoder.
func New(opts ...Option) *Decoder {
	d := &Decoder{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DecodeText parses data into a Node. A nil or empty input yields an
// EmptyBody failure; invalid JSON yields MalformedSyntax with the position of
// the error.
func (d *Decoder) DecodeText(data []byte) core.Result[Node] {
	return d.decodeText(data, 0)
}

func (d *Decoder) decodeText(data []byte, id int64) core.Result[Node] {
	if len(data) == 0 {
		d.logger.Error().Int64("request_id", id).Msg(EmptyBodyMessage)
		return core.Failure[Node](&core.DeserializeError{
			Kind:          core.KindEmptyBody,
			Message:       prefix(id) + EmptyBodyMessage,
			Raw:           "",
			RawAvailable:  true,
			Position:      -1,
			CorrelationID: id,
		})
	}

	text := string(data)
	var tree any
	if err := api.UnmarshalFromString(text, &tree); err != nil {
		kind, pos := classify(err)
		if kind != core.KindMalformedSyntax {
			kind = core.KindUnknown
		}
		derr := &core.DeserializeError{
			Kind:          kind,
			Message:       prefix(id) + describe(kind, err, pos),
			Raw:           text,
			RawAvailable:  true,
			Position:      pos,
			CorrelationID: id,
		}
		d.logFailure(derr)
		return core.Failure[Node](derr)
	}

	return core.Success(newNode(tree, text))
}

// Value converts node into T. Passing the zero Node is a programming error
// and panics; callers must check DecodeText's result first.
func Value[T any](d *Decoder, node Node, id int64) core.Result[T] {
	if node.IsZero() {
		panic(fmt.Sprintf("decode: zero Node cannot be converted into %T", *new(T)))
	}

	var v T
	if err := convert(node.Raw(), &v); err != nil {
		kind, pos := classify(err)
		if kind == core.KindMalformedSyntax {
			// the tree stage already accepted the syntax
			kind = core.KindSchemaMismatch
		}
		derr := &core.DeserializeError{
			Kind:          kind,
			Message:       fmt.Sprintf("%sDeserialize<%T> %s, data: %s", prefix(id), v, describe(kind, err, pos), node.Raw()),
			Raw:           node.Raw(),
			RawAvailable:  true,
			Position:      pos,
			CorrelationID: id,
		}
		d.logFailure(derr)
		return core.Failure[T](derr)
	}

	res := core.Success(v)
	res.CorrelationID = id
	return res
}

// Text decodes data into T through the Node stage.
func Text[T any](d *Decoder, data []byte, id int64) core.Result[T] {
	tree := d.decodeText(data, id)
	if !tree.OK() {
		return core.FailureAs[T](tree)
	}
	return Value[T](d, tree.Data, id)
}

func convert(raw string, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during conversion: %v", r)
		}
	}()
	return api.UnmarshalFromString(raw, v)
}

var errTrailingData = errors.New("invalid character after top-level value")

// classify maps a sonic or encoding/json error to a failure kind and the byte
// position it reports, -1 when none. Sonic returns its errors both by value
// and by pointer depending on the decoding path.
func classify(err error) (core.DeserializeErrorKind, int) {
	var se decoder.SyntaxError
	if errors.As(err, &se) {
		return core.KindMalformedSyntax, se.Pos
	}
	var sep *decoder.SyntaxError
	if errors.As(err, &sep) && sep != nil {
		return core.KindMalformedSyntax, sep.Pos
	}
	var jse *json.SyntaxError
	if errors.As(err, &jse) {
		return core.KindMalformedSyntax, int(jse.Offset)
	}
	if errors.Is(err, errTrailingData) {
		return core.KindMalformedSyntax, -1
	}
	var mep *decoder.MismatchTypeError
	if errors.As(err, &mep) && mep != nil {
		return core.KindSchemaMismatch, mep.Pos
	}
	var me decoder.MismatchTypeError
	if errors.As(err, &me) {
		return core.KindSchemaMismatch, me.Pos
	}
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) {
		return core.KindSchemaMismatch, int(ute.Offset)
	}
	return core.KindUnknown, -1
}

func describe(kind core.DeserializeErrorKind, err error, pos int) string {
	switch kind {
	case core.KindMalformedSyntax:
		return fmt.Sprintf("Deserialize syntax error: %v, Position: %d", err, pos)
	case core.KindSchemaMismatch:
		return fmt.Sprintf("Deserialize schema mismatch: %v", err)
	default:
		return fmt.Sprintf("Deserialize unknown error: %v", err)
	}
}

func prefix(id int64) string {
	if id == 0 {
		return ""
	}
	return fmt.Sprintf("[%d] ", id)
}

func (d *Decoder) logFailure(derr *core.DeserializeError) {
	d.logger.Error().
		Int64("request_id", derr.CorrelationID).
		Stringer("kind", derr.Kind).
		Str("data", derr.Raw).
		Msg(derr.Message)
}
