// Package qr renders login URLs as PNG images for the chat front-end.
package qr

import (
	qrcode "github.com/skip2/go-qrcode"
)

// Encoder turns a QR payload into an image. The orchestrator only depends
// on this interface; tests substitute a stub.
type Encoder interface {
	Encode(payload string) ([]byte, error)
}

// PNGEncoder renders a square PNG of the given pixel size.
type PNGEncoder struct {
	Size int
}

func NewPNGEncoder() *PNGEncoder {
	return &PNGEncoder{Size: 490}
}

func (e *PNGEncoder) Encode(payload string) ([]byte, error) {
	size := e.Size
	if size <= 0 {
		size = 490
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}
