package capture

import "bytes"

// Format is the encoding of an artifact, detected from its magic bytes.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatBMP     Format = "bmp"
	FormatPPM     Format = "ppm"
	FormatPNG     Format = "png"
	FormatUnknown Format = "unknown"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Sniff detects the format from the first bytes of data.
// This is a header check only; the payload is not validated.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return FormatJPEG
	case len(data) >= 2 && data[0] == 'B' && data[1] == 'M':
		return FormatBMP
	case len(data) >= 2 && data[0] == 'P' && data[1] == '6':
		return FormatPPM
	case bytes.HasPrefix(data, pngMagic):
		return FormatPNG
	default:
		return FormatUnknown
	}
}
