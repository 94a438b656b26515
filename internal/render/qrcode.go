package render

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// QRCodePNG 把文本编码为 PNG 格式的二维码。
func QRCodePNG(value string, size int) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("encode qr code: empty value")
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(value, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}
