package core

// encoding.go detects the text encoding of a batch and decodes it to UTF-8.
//
// Spreadsheet exports in this inventory arrive as UTF-8 (with or without a
// BOM), UTF-16 from "Unicode text" saves, or legacy Japanese encodings. A
// candidate is accepted when its output is clean text: no replacement
// characters and no control characters besides tab, CR and LF.

import (
	"bytes"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	xunicode "golang.org/x/text/encoding/unicode"
)

// Encoding names reported in ParsedBatch.Encoding.
const (
	EncodingUTF8BOM  = "utf-8-bom"
	EncodingUTF16LE  = "utf-16le"
	EncodingUTF16BE  = "utf-16be"
	EncodingUTF8     = "utf-8"
	EncodingShiftJIS = "shift_jis"
	EncodingEUCJP    = "euc-jp"
)

var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// legacyEncodings are tried in order when the input is not UTF-8.
var legacyEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{EncodingShiftJIS, japanese.ShiftJIS},
	{EncodingEUCJP, japanese.EUCJP},
}

// DetectEncoding returns data decoded to UTF-8 and the name of the detected
// encoding. A UTF-8 BOM is validated but left in place for BOMSkippingReader.
func DetectEncoding(data []byte) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyBatch
	}

	switch {
	case bytes.HasPrefix(data, utf8BOM):
		if utf8.Valid(data) && isCleanText(data[len(utf8BOM):]) {
			return data, EncodingUTF8BOM, nil
		}
		return nil, "", &EncodingError{Tried: []string{EncodingUTF8BOM}}
	case bytes.HasPrefix(data, bomUTF16LE):
		return decodeUTF16(data, xunicode.LittleEndian, EncodingUTF16LE)
	case bytes.HasPrefix(data, bomUTF16BE):
		return decodeUTF16(data, xunicode.BigEndian, EncodingUTF16BE)
	}

	tried := []string{EncodingUTF8}
	if utf8.Valid(data) && isCleanText(data) {
		return data, EncodingUTF8, nil
	}

	// Shift_JIS maps most EUC-JP byte pairs to half-width katakana, so both
	// may decode cleanly. Keep the candidate that looks least like mojibake.
	var (
		best      []byte
		bestName  string
		bestScore = -1
	)
	for _, le := range legacyEncodings {
		tried = append(tried, le.name)
		out, err := le.enc.NewDecoder().Bytes(data)
		if err != nil || !isCleanText(out) {
			continue
		}
		if score := mojibakeScore(out); bestScore < 0 || score < bestScore {
			best, bestName, bestScore = out, le.name, score
		}
	}
	if bestScore >= 0 {
		return best, bestName, nil
	}
	return nil, "", &EncodingError{Tried: tried}
}

func decodeUTF16(data []byte, order xunicode.Endianness, name string) ([]byte, string, error) {
	out, err := xunicode.UTF16(order, xunicode.ExpectBOM).NewDecoder().Bytes(data)
	if err != nil || !isCleanText(out) {
		return nil, "", &EncodingError{Tried: []string{name}}
	}
	return out, name, nil
}

// isCleanText reports whether UTF-8 text has no U+FFFD and no control
// characters other than tab, CR and LF.
func isCleanText(b []byte) bool {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError {
			return false
		}
		if r < 0x20 && r != '\t' && r != '\r' && r != '\n' {
			return false
		}
		if r == 0x7F {
			return false
		}
		b = b[size:]
	}
	return true
}

// mojibakeScore counts half-width katakana and private-use runes, which
// appear when EUC-JP is misread as Shift_JIS.
func mojibakeScore(b []byte) int {
	score := 0
	for _, r := range string(b) {
		switch {
		case r >= 0xFF61 && r <= 0xFF9F:
			score++
		case unicode.Is(unicode.Co, r):
			score++
		}
	}
	return score
}
