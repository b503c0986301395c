package filters

import (
	"errors"

	"pdfcore/ir/raw"
)

// applyPredictor reverses the Predictor transform declared in the
// DecodeParms of a Flate or LZW stream. Cross-reference streams almost
// always use PNG Up (predictor 12).
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	predictor := dictInt(params, "Predictor", 1)
	if predictor <= 1 {
		return data, nil
	}
	colors := dictInt(params, "Colors", 1)
	bpc := dictInt(params, "BitsPerComponent", 8)
	columns := dictInt(params, "Columns", 1)

	bpp := (colors*bpc + 7) / 8
	rowLen := (colors*bpc*columns + 7) / 8
	if bpp <= 0 || rowLen <= 0 {
		return nil, errors.New("invalid predictor parameters")
	}

	if predictor == 2 {
		// TIFF predictor, byte-aligned components only.
		if bpc != 8 {
			return nil, errors.New("TIFF predictor requires 8 bits per component")
		}
		for r := 0; r+rowLen <= len(data); r += rowLen {
			row := data[r : r+rowLen]
			for i := bpp; i < len(row); i++ {
				row[i] += row[i-bpp]
			}
		}
		return data, nil
	}

	// PNG predictors: each row is prefixed with a filter-type byte.
	stride := rowLen + 1
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	for r := 0; r+stride <= len(data)+1 && r+1 <= len(data); r += stride {
		end := r + stride
		if end > len(data) {
			end = len(data)
		}
		ft := data[r]
		row := append([]byte(nil), data[r+1:end]...)
		for len(row) < rowLen {
			row = append(row, 0)
		}
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < len(row); i++ {
				row[i] += row[i-bpp]
			}
		case 2: // Up
			for i := range row {
				row[i] += prev[i]
			}
		case 3: // Average
			for i := range row {
				var left byte
				if i >= bpp {
					left = row[i-bpp]
				}
				row[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := range row {
				var left, upLeft byte
				if i >= bpp {
					left = row[i-bpp]
					upLeft = prev[i-bpp]
				}
				row[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, errors.New("unknown PNG predictor filter type")
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func dictInt(d raw.Dictionary, key string, def int) int {
	if v, ok := d.Get(raw.NameObj{Val: key}); ok {
		if n, ok := v.(raw.Number); ok {
			return int(n.Int())
		}
	}
	return def
}
