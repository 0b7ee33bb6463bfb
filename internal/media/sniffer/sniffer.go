package sniffer

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
)

type MediaType string

const (
	TypeMP4  MediaType = "mp4"
	TypeMOV  MediaType = "mov"
	TypeWEBM MediaType = "webm"
	TypeMKV  MediaType = "mkv"
	TypeAVI  MediaType = "avi"
	TypeMPTS MediaType = "ts"
)

var ErrUnknownType = errors.New("unknown media type")

type Result struct {
	Type MediaType
	MIME string
}

func Detect(r io.Reader) (Result, []byte, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Result{}, nil, err
	}
	head = head[:n]

	result, err := DetectHead(head)
	return result, head, err
}

func DetectHead(head []byte) (Result, error) {
	if len(head) == 0 {
		return Result{}, ErrUnknownType
	}

	if brand, ok := ftypBrand(head); ok {
		if brand == "qt  " {
			return Result{Type: TypeMOV, MIME: "video/quicktime"}, nil
		}
		return Result{Type: TypeMP4, MIME: "video/mp4"}, nil
	}
	if isEBML(head) {
		if bytes.Contains(head, []byte("webm")) {
			return Result{Type: TypeWEBM, MIME: "video/webm"}, nil
		}
		return Result{Type: TypeMKV, MIME: "video/x-matroska"}, nil
	}
	if isAVI(head) {
		return Result{Type: TypeAVI, MIME: "video/x-msvideo"}, nil
	}
	if isMPEGTS(head) {
		return Result{Type: TypeMPTS, MIME: "video/mp2t"}, nil
	}

	return Result{}, ErrUnknownType
}

// ftypBrand returns the major brand of an ISO base media file.
func ftypBrand(head []byte) (string, bool) {
	if len(head) < 12 || string(head[4:8]) != "ftyp" {
		return "", false
	}
	brand := string(head[8:12])
	// Still images share the container.
	switch brand {
	case "avif", "avis", "heic", "heix", "mif1", "msf1":
		return "", false
	}
	return brand, true
}

func isEBML(head []byte) bool {
	return len(head) >= 4 && bytes.Equal(head[:4], []byte{0x1a, 0x45, 0xdf, 0xa3})
}

func isAVI(head []byte) bool {
	return len(head) >= 12 &&
		bytes.Equal(head[:4], []byte("RIFF")) &&
		bytes.Equal(head[8:12], []byte("AVI "))
}

// isMPEGTS requires the sync byte at the start of at least two consecutive
// 188-byte packets when the head is long enough.
func isMPEGTS(head []byte) bool {
	if len(head) == 0 || head[0] != 0x47 {
		return false
	}
	if len(head) > 188 && head[188] != 0x47 {
		return false
	}
	if len(head) > 376 && head[376] != 0x47 {
		return false
	}
	return len(head) > 188
}

func MimeTypeFromHTTP(header http.Header) string {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		return ""
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		return strings.TrimSpace(contentType[:idx])
	}
	return strings.TrimSpace(contentType)
}

// Compatible reports whether a client-declared MIME type may describe the
// detected container. Browsers are inconsistent for Matroska and MPEG-TS, so
// generic declarations are accepted.
func Compatible(declared string, result Result) bool {
	switch declared {
	case "", "application/octet-stream", result.MIME:
		return true
	}
	switch result.Type {
	case TypeMKV:
		return declared == "video/webm" || declared == "video/mkv"
	case TypeMP4:
		return declared == "video/quicktime" || declared == "video/x-m4v"
	case TypeMOV:
		return declared == "video/mp4"
	case TypeAVI:
		return declared == "video/avi" || declared == "video/msvideo"
	case TypeMPTS:
		return declared == "video/mpeg"
	}
	return false
}
