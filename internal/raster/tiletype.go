package raster

import (
	"bytes"
	"net/http"
)

// Type identifies an encoded tile by its leading bytes.
type Type string

const (
	TypeUnknown Type = ""
	TypePNG     Type = "png"
	TypeJPEG    Type = "jpg"
	TypeGIF     Type = "gif"
	TypeWebP    Type = "webp"
	TypeTIFF    Type = "tiff"
	TypeBMP     Type = "bmp"
	TypePBF     Type = "pbf"
)

var contentTypes = map[Type]string{
	TypePNG:  "image/png",
	TypeJPEG: "image/jpeg",
	TypeGIF:  "image/gif",
	TypeWebP: "image/webp",
	TypeTIFF: "image/tiff",
	TypeBMP:  "image/bmp",
	TypePBF:  "application/x-protobuf",
}

// Sniff detects the tile type from the data signature.
func Sniff(data []byte) Type {
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return TypePNG
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return TypeJPEG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return TypeGIF
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return TypeWebP
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return TypeTIFF
	case bytes.HasPrefix(data, []byte("BM")):
		return TypeBMP
	case bytes.HasPrefix(data, []byte{0x1F, 0x8B}), bytes.HasPrefix(data, []byte{0x78, 0x9C}):
		return TypePBF
	}
	return TypeUnknown
}

// ContentType returns the MIME type for t, or an empty string.
func (t Type) ContentType() string {
	return contentTypes[t]
}

// Headers derives response headers from encoded tile bytes.
func Headers(data []byte) http.Header {
	h := http.Header{}
	t := Sniff(data)
	if ct := t.ContentType(); ct != "" {
		h.Set("Content-Type", ct)
	}
	if t == TypePBF {
		if data[0] == 0x1F {
			h.Set("Content-Encoding", "gzip")
		} else {
			h.Set("Content-Encoding", "deflate")
		}
	}
	return h
}
