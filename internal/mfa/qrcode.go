package mfa

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

const qrCodeSize = 256

// QRCodeDataURL renders content as a PNG QR code data URL.
func QRCodeDataURL(content string) (string, error) {
	code, errEncode := qr.Encode(content, qr.M, qr.Auto)
	if errEncode != nil {
		return "", fmt.Errorf("mfa: qr encode: %w", errEncode)
	}
	code, errScale := barcode.Scale(code, qrCodeSize, qrCodeSize)
	if errScale != nil {
		return "", fmt.Errorf("mfa: qr scale: %w", errScale)
	}
	var buf bytes.Buffer
	if errPNG := png.Encode(&buf, code); errPNG != nil {
		return "", fmt.Errorf("mfa: qr png: %w", errPNG)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
