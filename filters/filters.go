// Package filters decodes stream payloads. The engine itself only needs
// it for container (object) streams and binary cross-reference streams,
// which are almost always FlateDecode with a PNG predictor.
package filters

import (
	"bytes"
	"compress/lzw"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	"pdfcore/ir/raw"
)

type Decoder interface {
	Name() string
	Decode(input []byte, params raw.Dictionary) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
}

type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with the provided decoders.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	m := make(map[string]Decoder, len(decoders))
	for _, d := range decoders {
		m[d.Name()] = d
	}
	return &Pipeline{decoders: m, limits: limits}
}

// Default returns a pipeline with every decoder the engine knows.
func Default(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCIIHexDecoder(),
		NewASCII85Decoder(),
		NewRunLengthDecoder(),
	}, limits)
}

// Decode applies each named filter in order.
func (p *Pipeline) Decode(input []byte, filterNames []string, params []raw.Dictionary) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		if name == "Crypt" {
			// Decryption happens at the object layer, not here.
			continue
		}
		dec, ok := p.decoders[name]
		if !ok {
			return nil, errors.New("unknown filter: " + name)
		}
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(data, param)
		if err != nil {
			return nil, err
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, errors.New("decompressed size exceeds limit")
		}
		data = out
	}
	return data, nil
}

// DecodeStream decodes a stream object using its own Filter/DecodeParms.
func (p *Pipeline) DecodeStream(st raw.Stream) ([]byte, error) {
	names, params := ExtractFilters(st.Dictionary())
	return p.Decode(st.RawData(), names, params)
}

// ExtractFilters reads Filter and DecodeParms entries from a stream dictionary.
func ExtractFilters(dict raw.Dictionary) ([]string, []raw.Dictionary) {
	var names []string
	var params []raw.Dictionary
	if dict == nil {
		return nil, nil
	}

	filterObj, ok := dict.Get(raw.NameObj{Val: "Filter"})
	if !ok {
		return names, params
	}
	switch f := filterObj.(type) {
	case raw.Name:
		names = append(names, f.Value())
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := item.(raw.Name); ok {
				names = append(names, n.Value())
			}
		}
	}

	if len(names) > 0 {
		if pObj, ok := dict.Get(raw.NameObj{Val: "DecodeParms"}); ok {
			switch p := pObj.(type) {
			case raw.Dictionary:
				params = append(params, p)
			case *raw.ArrayObj:
				for _, item := range p.Items {
					if d, ok := item.(raw.Dictionary); ok {
						params = append(params, d)
					} else {
						params = append(params, nil)
					}
				}
			}
		}
	}
	return names, params
}

type flateDecoder struct{}

func NewFlateDecoder() Decoder    { return flateDecoder{} }
func (flateDecoder) Name() string { return "FlateDecode" }

func (flateDecoder) Decode(in []byte, params raw.Dictionary) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(in))
	var out bytes.Buffer
	if err == nil {
		defer zr.Close()
		if _, err := io.Copy(&out, zr); err != nil && out.Len() == 0 {
			return nil, err
		}
	} else {
		// Some producers omit the zlib wrapper.
		fr := flate.NewReader(bytes.NewReader(in))
		defer fr.Close()
		if _, err := io.Copy(&out, fr); err != nil && out.Len() == 0 {
			return nil, err
		}
	}
	return applyPredictor(out.Bytes(), params)
}

// Encode compresses data the way FlateDecode expects it (zlib wrapper).
func Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type lzwDecoder struct{}

func NewLZWDecoder() Decoder    { return lzwDecoder{} }
func (lzwDecoder) Name() string { return "LZWDecode" }

func (lzwDecoder) Decode(in []byte, params raw.Dictionary) ([]byte, error) {
	r := lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && out.Len() == 0 {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder    { return ascii85Decoder{} }
func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(in []byte, params raw.Dictionary) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	if bytes.HasPrefix(trimmed, []byte("<~")) {
		trimmed = trimmed[2:]
	}
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, len(trimmed)*2+8)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder    { return asciiHexDecoder{} }
func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(in []byte, params raw.Dictionary) ([]byte, error) {
	var compact []byte
	for _, c := range in {
		if c == '>' {
			break
		}
		if c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20 {
			continue
		}
		compact = append(compact, c)
	}
	if len(compact)%2 == 1 {
		compact = append(compact, '0')
	}
	result := make([]byte, hex.DecodedLen(len(compact)))
	n, err := hex.Decode(result, compact)
	if err != nil {
		return nil, err
	}
	return result[:n], nil
}

type runLengthDecoder struct{}

func NewRunLengthDecoder() Decoder    { return runLengthDecoder{} }
func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (runLengthDecoder) Decode(in []byte, params raw.Dictionary) ([]byte, error) {
	var out bytes.Buffer
	i := 0
	for i < len(in) {
		n := int(in[i])
		i++
		switch {
		case n == 128:
			return out.Bytes(), nil
		case n < 128:
			if i+n+1 > len(in) {
				return nil, errors.New("run length literal truncated")
			}
			out.Write(in[i : i+n+1])
			i += n + 1
		default:
			if i >= len(in) {
				return nil, errors.New("run length repeat truncated")
			}
			b := in[i]
			i++
			for k := 0; k < 257-n; k++ {
				out.WriteByte(b)
			}
		}
	}
	return out.Bytes(), nil
}
