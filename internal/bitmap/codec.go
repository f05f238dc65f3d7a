// Package bitmap moves node contents across process boundaries: pixel
// payloads are RGBA, optionally compressed, and identified by a BLAKE3
// digest.
package bitmap

import (
	"encoding/hex"
	"errors"
	"fmt"
	"image"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Encoding names how Payload.Data is compressed. These strings are part of
// the IPC protocol.
type Encoding string

const (
	EncodingNone Encoding = "none"
	EncodingLZ4  Encoding = "lz4"
	EncodingZstd Encoding = "zstd"
)

// MaxPixels bounds decoded payloads so a malformed request cannot make the
// service allocate without limit.
const MaxPixels = 8192 * 8192

// Payload is the wire form of a bitmap.
type Payload struct {
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Encoding Encoding `json:"encoding,omitempty"`
	Data     []byte   `json:"data"`
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("bitmap: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = newZstdDecoder(MaxPixels * 4)
	if err != nil {
		panic("bitmap: zstd decoder initialization failed: " + err.Error())
	}
}

// newZstdDecoder returns a decoder that refuses to produce more than
// maxBytes of output.
func newZstdDecoder(maxBytes uint64) (*zstd.Decoder, error) {
	return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBytes))
}

// ParseEncoding accepts "", "none", "lz4" and "zstd". Empty means none.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingNone:
		return EncodingNone, nil
	case EncodingLZ4, EncodingZstd:
		return Encoding(s), nil
	default:
		return "", fmt.Errorf("unknown bitmap encoding %q", s)
	}
}

// Encode converts img into a payload. Incompressible pixels are sent raw
// whatever the requested encoding.
func Encode(img *image.RGBA, enc Encoding) (Payload, error) {
	if img == nil {
		return Payload{}, nil
	}
	pix := packed(img)
	p := Payload{
		Width:    img.Rect.Dx(),
		Height:   img.Rect.Dy(),
		Encoding: EncodingNone,
		Data:     pix,
	}

	var (
		compressed []byte
		err        error
	)
	switch enc {
	case "", EncodingNone:
		return p, nil
	case EncodingLZ4:
		compressed, err = compressLZ4(pix)
	case EncodingZstd:
		compressed = zstdEncoder.EncodeAll(pix, nil)
	default:
		return Payload{}, fmt.Errorf("unknown bitmap encoding %q", enc)
	}
	if errors.Is(err, errIncompressible) {
		return p, nil
	}
	if err != nil {
		return Payload{}, err
	}
	if len(compressed) >= len(pix) {
		return p, nil
	}
	p.Encoding = enc
	p.Data = compressed
	return p, nil
}

// Decode validates p and returns its pixels. An empty payload decodes to
// nil, which clears a node's contents.
func Decode(p Payload) (*image.RGBA, error) {
	if p.Width == 0 && p.Height == 0 && len(p.Data) == 0 {
		return nil, nil
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid bitmap size %dx%d", p.Width, p.Height)
	}
	if p.Width > MaxPixels/p.Height {
		return nil, fmt.Errorf("bitmap %dx%d exceeds %d pixels", p.Width, p.Height, MaxPixels)
	}
	size := p.Width * p.Height * 4

	var (
		pix []byte
		err error
	)
	switch p.Encoding {
	case "", EncodingNone:
		pix = p.Data
	case EncodingLZ4:
		pix, err = decompressLZ4(p.Data, size)
	case EncodingZstd:
		pix, err = decompressZstd(p.Data, size)
	default:
		return nil, fmt.Errorf("unknown bitmap encoding %q", p.Encoding)
	}
	if err != nil {
		return nil, err
	}
	if len(pix) != size {
		return nil, fmt.Errorf("bitmap %dx%d needs %d bytes, got %d", p.Width, p.Height, size, len(pix))
	}

	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	copy(img.Pix, pix)
	return img, nil
}

// decompressZstd checks the declared frame size against size before
// decoding, so a small frame cannot claim a large allocation.
func decompressZstd(data []byte, size int) ([]byte, error) {
	var h zstd.Header
	if err := h.Decode(data); err != nil {
		return nil, fmt.Errorf("zstd header: %w", err)
	}
	if h.HasFCS && h.FrameContentSize != uint64(size) {
		return nil, fmt.Errorf("zstd frame declares %d bytes, want %d", h.FrameContentSize, size)
	}
	pix, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return pix, nil
}

var errIncompressible = errors.New("incompressible")

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func decompressLZ4(data []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(data, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return dst[:n], nil
}

// packed returns the pixel bytes without row padding.
func packed(img *image.RGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if img.Stride == w*4 && img.Rect.Min == (image.Point{}) {
		return img.Pix[:w*h*4]
	}
	out := make([]byte, 0, w*h*4)
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		start := img.PixOffset(img.Rect.Min.X, y)
		out = append(out, img.Pix[start:start+w*4]...)
	}
	return out
}

// Digest identifies bitmap contents. The zero Digest stands for "no bitmap".
type Digest [32]byte

func (d Digest) IsZero() bool { return d == Digest{} }

func (d Digest) String() string {
	if d.IsZero() {
		return ""
	}
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex digits, for logs and listings.
func (d Digest) Short() string {
	s := d.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// Sum hashes the dimensions and pixels of img. A nil image has the zero
// digest.
func Sum(img *image.RGBA) Digest {
	if img == nil {
		return Digest{}
	}
	h := blake3.New()
	fmt.Fprintf(h, "%dx%d:", img.Rect.Dx(), img.Rect.Dy())
	h.Write(packed(img))
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}
