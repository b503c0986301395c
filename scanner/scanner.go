// Package scanner tokenizes the object grammar of a PDF byte source.
// It buffers the underlying io.ReaderAt in fixed-size windows so that
// arbitrarily large documents can be walked without loading them whole.
package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"pdfcore/recovery"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // stream payload
	TokenKeyword                  // obj, endobj, trailer, xref, >>, ], ...
)

type Token struct {
	Type  TokenType
	Pos   int64
	Str   string
	Bytes []byte
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Gen   int // generation for TokenRef
	Hex   bool
}

type Config struct {
	MaxStringLength int64
	MaxArrayDepth   int
	MaxDictDepth    int
	MaxStreamLength int64
	WindowSize      int64
	Recovery        recovery.Strategy
}

func DefaultConfig() Config {
	return Config{
		MaxStringLength: 32 << 20,
		MaxArrayDepth:   256,
		MaxDictDepth:    256,
		MaxStreamLength: 1 << 30,
		WindowSize:      64 * 1024,
	}
}

// Scanner walks tokens of the object grammar.
type Scanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	eof           bool
	arrayDepth    int
	dictDepth     int
}

// New returns a scanner over r. The reader is buffered incrementally.
func New(r io.ReaderAt, cfg Config) *Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &Scanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

func (s *Scanner) Position() int64 { return s.pos }

func (s *Scanner) Seek(offset int64) error {
	if offset < 0 {
		return errors.New("seek out of range")
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

// SetNextStreamLength tells the scanner the declared length of the next
// stream payload. A negative value clears the hint.
func (s *Scanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

// Length reports the total byte length of the source.
func (s *Scanner) Length() int64 {
	for !s.eof {
		if s.loadMore() != nil {
			break
		}
	}
	return int64(len(s.data))
}

// Peek returns the byte at the current position without consuming it.
func (s *Scanner) Peek() (byte, bool) {
	if err := s.ensure(s.pos); err != nil || s.pos >= int64(len(s.data)) {
		return 0, false
	}
	return s.data[s.pos], true
}

// ReadRaw copies exactly n bytes from the current position and advances.
// It fails if the source ends first.
func (s *Scanner) ReadRaw(n int64) ([]byte, error) {
	if n < 0 {
		return nil, errors.New("negative read")
	}
	if n > 0 {
		if err := s.ensure(s.pos + n - 1); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}
	if s.pos+n > int64(len(s.data)) {
		return nil, io.ErrUnexpectedEOF
	}
	out := append([]byte(nil), s.data[s.pos:s.pos+n]...)
	s.pos += n
	return out, nil
}

// SkipWhitespace consumes whitespace and comments.
func (s *Scanner) SkipWhitespace() error { return s.skipWSAndComments() }

func (s *Scanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDict, Str: "<<", Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenKeyword, Str: ">>", Pos: start})
		}
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: string(c), Pos: start})
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArray, Str: "[", Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: "]", Pos: start})
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isNumberStart(c) {
		return s.scanNumberOrRef()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return s.emit(Token{Type: TokenKeyword, Str: string(c), Pos: start})
}

func (s *Scanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if s.pos >= int64(len(s.data)) {
			return io.EOF
		}
		c := s.data[s.pos]
		if IsWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && !isEOL(s.data[s.pos]) {
				s.pos++
				if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
					return err
				}
			}
			continue
		}
		return nil
	}
}

func (s *Scanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	off := int64(len(s.data))
	n, err := s.reader.ReadAt(buf, off)
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if err == io.EOF {
		s.eof = true
		return nil
	}
	if err != nil {
		return err
	}
	if n == 0 {
		s.eof = true
	}
	return nil
}

func (s *Scanner) peekAhead(n int64) byte {
	if err := s.ensure(s.pos + n); err != nil {
		return 0
	}
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // '/'
	var out bytes.Buffer
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if IsDelimiter(c) || IsWhitespace(c) {
			break
		}
		if c == '#' {
			s.pos++
			hi := s.hexNibble()
			lo := s.hexNibble()
			out.WriteByte(hi<<4 | lo)
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return s.emit(Token{Type: TokenName, Str: out.String(), Pos: start})
}

func (s *Scanner) hexNibble() byte {
	if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
		return 0
	}
	c := s.data[s.pos]
	s.pos++
	return fromHex(c)
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		switch {
		case c == '\\':
			s.pos++
			if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
				break
			}
			esc := s.data[s.pos]
			if esc == '\r' || esc == '\n' {
				// line continuation
				s.pos++
				if esc == '\r' && s.peekByte() == '\n' {
					s.pos++
				}
				continue
			}
			if esc >= '0' && esc <= '7' {
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2 && s.pos < int64(len(s.data)); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
				continue
			}
			buf.WriteByte(translateEscape(esc))
			s.pos++
		case c == '(':
			depth++
			buf.WriteByte(c)
			s.pos++
		case c == ')':
			depth--
			s.pos++
			if depth == 0 {
				return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
			}
			buf.WriteByte(c)
		default:
			buf.WriteByte(c)
			s.pos++
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, s.recover(errors.New("literal string too long"), "literal")
		}
	}
	if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
		return Token{}, err
	}
	return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // '<'
	var nibbles []byte
	closed := false
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			closed = true
			break
		}
		if IsWhitespace(c) {
			s.pos++
			continue
		}
		nibbles = append(nibbles, c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
			return Token{}, s.recover(errors.New("hex string too long"), "hex")
		}
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	out := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		out = append(out, fromHex(nibbles[i])<<4|fromHex(nibbles[i+1]))
	}
	return s.emit(Token{Type: TokenString, Bytes: out, Pos: start, Hex: true})
}

// scanStream consumes the payload after a 'stream' keyword. The format
// requires an EOL after the keyword; the declared length hint, when
// set, is authoritative and a short source is a hard error.
func (s *Scanner) scanStream(start int64) (Token, error) {
	if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
		return Token{}, err
	}
	switch s.peekByte() {
	case '\r':
		s.pos++
		if s.peekByte() == '\n' {
			s.pos++
		}
	case '\n':
		s.pos++
	default:
		if err := s.recover(errors.New("stream keyword not followed by EOL"), "stream"); err != nil {
			return Token{}, err
		}
	}
	dataStart := s.pos

	if s.nextStreamLen >= 0 {
		length := s.nextStreamLen
		s.nextStreamLen = -1
		if s.cfg.MaxStreamLength > 0 && length > s.cfg.MaxStreamLength {
			return Token{}, errors.New("stream too long")
		}
		payload, err := s.ReadRaw(length)
		if err != nil {
			return Token{}, errors.New("stream ended before declared length")
		}
		// consume optional EOL and the endstream keyword
		s.skipWSAndComments()
		if bytes.HasPrefix(s.remaining(), []byte("endstream")) {
			s.pos += int64(len("endstream"))
		} else if idx := bytes.Index(s.remaining(), []byte("endstream")); idx >= 0 {
			if err := s.recover(errors.New("endstream not adjacent to declared length"), "stream"); err != nil {
				return Token{}, err
			}
			s.pos += int64(idx + len("endstream"))
		}
		return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
	}

	// No declared length: search for the closing keyword.
	idx := bytes.Index(s.remainingAll(), []byte("endstream"))
	if idx < 0 {
		return Token{}, s.recover(errors.New("endstream not found"), "stream")
	}
	end := dataStart + int64(idx)
	for end > dataStart && isEOL(s.data[end-1]) {
		end--
	}
	payload := append([]byte(nil), s.data[dataStart:end]...)
	if s.cfg.MaxStreamLength > 0 && int64(len(payload)) > s.cfg.MaxStreamLength {
		return Token{}, s.recover(errors.New("stream too long"), "stream")
	}
	s.pos = dataStart + int64(idx) + int64(len("endstream"))
	return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
}

func (s *Scanner) remaining() []byte {
	s.ensure(s.pos + 32)
	if s.pos >= int64(len(s.data)) {
		return nil
	}
	return s.data[s.pos:]
}

func (s *Scanner) remainingAll() []byte {
	s.Length()
	if s.pos >= int64(len(s.data)) {
		return nil
	}
	return s.data[s.pos:]
}

func (s *Scanner) peekByte() byte {
	if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos]
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.pos
	var buf bytes.Buffer
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if IsDelimiter(c) || IsWhitespace(c) {
			break
		}
		buf.WriteByte(c)
		s.pos++
	}
	kw := buf.String()
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

func (s *Scanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	first := s.scanNumberString()
	if first == "" {
		return Token{}, errors.New("invalid number")
	}
	afterFirst := s.pos
	s.skipWSAndComments()
	secondStart := s.pos
	second := s.scanNumberString()
	if second != "" {
		s.skipWSAndComments()
		if s.peekByte() == 'R' && !isRegular(s.peekAhead(1)) {
			s.pos++
			num, err1 := strconv.Atoi(first)
			gen, err2 := strconv.Atoi(second)
			if err1 == nil && err2 == nil {
				return Token{Type: TokenRef, Int: int64(num), Gen: gen, Pos: start}, nil
			}
		}
		// not a reference, rewind to the second number
		s.pos = secondStart
	} else {
		s.pos = afterFirst
	}
	if i, err := strconv.ParseInt(first, 10, 64); err == nil {
		return s.emit(Token{Type: TokenNumber, Int: i, IsInt: true, Pos: start})
	}
	f, err := strconv.ParseFloat(first, 64)
	if err != nil {
		return Token{}, errors.New("invalid number: " + first)
	}
	return s.emit(Token{Type: TokenNumber, Float: f, Pos: start})
}

func (s *Scanner) scanNumberString() string {
	start := s.pos
	var buf bytes.Buffer
	seenDigit := false
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return ""
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if !isNumberStart(c) {
			break
		}
		if c >= '0' && c <= '9' {
			seenDigit = true
		}
		buf.WriteByte(c)
		s.pos++
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return buf.String()
}

func (s *Scanner) recover(err error, component string) error {
	if s.cfg.Recovery == nil {
		return err
	}
	action := s.cfg.Recovery.OnError(err, recovery.Location{
		ByteOffset: s.pos,
		Component:  "scanner:" + component,
	})
	switch action {
	case recovery.ActionSkip, recovery.ActionFix:
		return nil
	default:
		return err
	}
}

func (s *Scanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArray:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, errors.New("array depth exceeded")
		}
	case TokenDict:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			return Token{}, errors.New("dict depth exceeded")
		}
	case TokenKeyword:
		if tok.Str == "]" && s.arrayDepth > 0 {
			s.arrayDepth--
		}
		if tok.Str == ">>" && s.dictDepth > 0 {
			s.dictDepth--
		}
	}
	return tok, nil
}

// IsWhitespace reports PDF whitespace (null, tab, LF, FF, CR, space).
func IsWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

// IsDelimiter reports PDF delimiter characters.
func IsDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isRegular(c byte) bool { return !IsWhitespace(c) && !IsDelimiter(c) }

func isNumberStart(c byte) bool {
	return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9')
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}
