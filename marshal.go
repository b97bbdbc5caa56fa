package jsbridge

import (
	"fmt"

	"github.com/bytedance/sonic"
	"golang.org/x/text/encoding/unicode"
)

// replacerFragment is always the first preamble fragment. Every result is
// passed through it by JSON.stringify so functions come back as source text
// and undefined as null.
const replacerFragment = `var replace = function (k, v) {
	if (typeof v === 'function') {
		return Function.prototype.toString.call(v);
	} else if (v === undefined) {
		return null;
	} else {
		return v;
	}
};`

var jsonAPI = sonic.ConfigStd

// encodeValue renders a host value as a JSON literal for splicing into
// script source.
func encodeValue(v any) (string, error) {
	s, err := jsonAPI.MarshalToString(v)
	if err != nil {
		return "", fmt.Errorf("%w: encode %T: %v", ErrMarshal, v, err)
	}
	return s, nil
}

// encodeArgs encodes positional arguments as a JSON array; no arguments
// encode as [] rather than null.
func encodeArgs(args []any) (string, error) {
	if args == nil {
		args = []any{}
	}
	return encodeValue(args)
}

// encodeString renders s as a JSON string literal, which is also a valid
// script string literal.
func encodeString(s string) string {
	lit, err := jsonAPI.MarshalToString(s)
	if err != nil {
		// strings always marshal
		panic(err)
	}
	return lit
}

// parseExpression renders JSON text as a JSON.parse call. Unlike splicing
// the text as an object literal, keys such as "__proto__" stay own
// properties.
func parseExpression(json string) string {
	return "JSON.parse(" + encodeString(json) + ")"
}

func decodeResult(s string) (any, error) {
	var v any
	if err := jsonAPI.UnmarshalFromString(s, &v); err != nil {
		return nil, fmt.Errorf("%w: decode result: %v", ErrMarshal, err)
	}
	return v, nil
}

func decodeInto(s string, out any) error {
	if err := jsonAPI.UnmarshalFromString(s, out); err != nil {
		return fmt.Errorf("%w: decode result into %T: %v", ErrMarshal, out, err)
	}
	return nil
}

// wrapExpression builds the statement evaluated after the preamble. The
// expression travels as a string literal and is re-evaluated by the
// script's own eval, so any snippet of source is accepted.
func wrapExpression(expression string) string {
	return "JSON.stringify(eval(" + encodeString(expression) + "), replace);"
}

// encodeSource produces the UTF-16LE source buffer, BOM first.
func encodeSource(text string) ([]byte, error) {
	buf, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: encode source: %v", ErrMarshal, err)
	}
	return buf, nil
}
