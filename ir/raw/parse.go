package raw

import (
	"errors"
	"io"

	"pdfcore/recovery"
	"pdfcore/scanner"
)

// TokenReader wraps a scanner with single-token pushback, which the
// value grammar needs to decide between "number" and "reference" forms.
type TokenReader struct {
	s   *scanner.Scanner
	buf []scanner.Token
}

func NewTokenReader(s *scanner.Scanner) *TokenReader { return &TokenReader{s: s} }

func (r *TokenReader) Next() (scanner.Token, error) {
	if n := len(r.buf); n > 0 {
		tok := r.buf[n-1]
		r.buf = r.buf[:n-1]
		return tok, nil
	}
	return r.s.Next()
}

func (r *TokenReader) Unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// Buffered reports whether an unread token is pending, meaning the
// scanner position runs ahead of the token stream.
func (r *TokenReader) Buffered() bool { return len(r.buf) > 0 }

func (r *TokenReader) Scanner() *scanner.Scanner { return r.s }

// ParseValue reads one object value from tr. Indirect references are
// returned as RefObj without resolution. Stream payloads are not
// consumed here; callers decide when to read them.
func ParseValue(tr *TokenReader, rec recovery.Strategy, objNum, objGen int) (Object, error) {
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return NumberObj{F: tok.Float}, nil
	case scanner.TokenBoolean:
		return BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenString:
		return StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenRef:
		return RefObj{R: ObjectRef{Num: int(tok.Int), Gen: tok.Gen}}, nil
	case scanner.TokenArray:
		return parseArray(tr, rec, objNum, objGen)
	case scanner.TokenDict:
		return parseDict(tr, rec, objNum, objGen)
	}
	return nil, errors.New("unexpected token: " + tok.Str)
}

func parseArray(tr *TokenReader, rec recovery.Strategy, objNum, objGen int) (Object, error) {
	arr := &ArrayObj{}
	for {
		tok, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("unterminated array")
			}
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		tr.Unread(tok)
		item, err := ParseValue(tr, rec, objNum, objGen)
		if err != nil {
			return nil, err
		}
		arr.Items = append(arr.Items, item)
	}
}

func parseDict(tr *TokenReader, rec recovery.Strategy, objNum, objGen int) (Object, error) {
	d := Dict()
	for {
		tok, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("unterminated dictionary")
			}
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			// A stray endobj usually means the closing >> is missing.
			if tok.Type == scanner.TokenKeyword && tok.Str == "endobj" && rec != nil {
				err := errors.New("unexpected endobj in dictionary")
				action := rec.OnError(err, recovery.Location{
					ObjectNum: objNum, ObjectGen: objGen, Component: "raw:dict",
				})
				if action == recovery.ActionFix || action == recovery.ActionWarn {
					tr.Unread(tok)
					return d, nil
				}
				return nil, err
			}
			return nil, errors.New("expected name key in dictionary")
		}
		val, err := ParseValue(tr, rec, objNum, objGen)
		if err != nil {
			return nil, err
		}
		d.Set(NameObj{Val: tok.Str}, val)
	}
}
