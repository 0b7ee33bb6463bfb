package sniffer

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ftyp(brand string) []byte {
	return append([]byte{0x00, 0x00, 0x00, 0x20, 'f', 't', 'y', 'p'}, []byte(brand+"\x00\x00\x02\x00isomiso2")...)
}

func TestDetectHead(t *testing.T) {
	ts := make([]byte, 400)
	ts[0], ts[188], ts[376] = 0x47, 0x47, 0x47

	cases := []struct {
		name string
		head []byte
		want MediaType
		mime string
	}{
		{"mp4", ftyp("isom"), TypeMP4, "video/mp4"},
		{"mp42", ftyp("mp42"), TypeMP4, "video/mp4"},
		{"mov", ftyp("qt  "), TypeMOV, "video/quicktime"},
		{"webm", append([]byte{0x1a, 0x45, 0xdf, 0xa3, 0x9f, 0x42, 0x82, 0x84}, []byte("webm")...), TypeWEBM, "video/webm"},
		{"mkv", append([]byte{0x1a, 0x45, 0xdf, 0xa3, 0x9f, 0x42, 0x82, 0x88}, []byte("matroska")...), TypeMKV, "video/x-matroska"},
		{"avi", []byte("RIFF\x00\x00\x00\x00AVI LIST"), TypeAVI, "video/x-msvideo"},
		{"ts", ts, TypeMPTS, "video/mp2t"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DetectHead(tc.head)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Type)
			assert.Equal(t, tc.mime, got.MIME)
		})
	}
}

func TestDetectHeadRejectsNonVideo(t *testing.T) {
	for name, head := range map[string][]byte{
		"empty": nil,
		"png":   {0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'},
		"avif":  ftyp("avif"),
		"wav":   []byte("RIFF\x00\x00\x00\x00WAVEfmt "),
		"text":  []byte("hello world"),
		"short": {0x47},
	} {
		_, err := DetectHead(head)
		assert.ErrorIs(t, err, ErrUnknownType, name)
	}
}

func TestDetectReturnsHead(t *testing.T) {
	data := append(ftyp("isom"), bytes.Repeat([]byte{0}, 1000)...)
	res, head, err := Detect(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, TypeMP4, res.Type)
	assert.Len(t, head, 512)
}

func TestMimeTypeFromHTTP(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, "", MimeTypeFromHTTP(h))
	h.Set("Content-Type", "video/mp4; codecs=avc1")
	assert.Equal(t, "video/mp4", MimeTypeFromHTTP(h))
}

func TestCompatible(t *testing.T) {
	mp4 := Result{Type: TypeMP4, MIME: "video/mp4"}
	assert.True(t, Compatible("", mp4))
	assert.True(t, Compatible("video/mp4", mp4))
	assert.True(t, Compatible("application/octet-stream", mp4))
	assert.True(t, Compatible("video/quicktime", mp4))
	assert.False(t, Compatible("image/png", mp4))
	assert.True(t, Compatible("video/webm", Result{Type: TypeMKV, MIME: "video/x-matroska"}))
}
