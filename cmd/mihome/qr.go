package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrsteele09/mihome-cloud/cloud"
	qrcode "github.com/skip2/go-qrcode"
)

// showQR prints the browser login link as a terminal QR code and, when pngPath is
// set, writes the QR image there.
func showQR(out io.Writer, challenge cloud.QRChallenge, image []byte, pngPath string) error {
	if challenge.LoginURL != "" {
		q, err := qrcode.New(challenge.LoginURL, qrcode.Low)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, q.ToSmallString(false))
		fmt.Fprintf(out, "Or open in a browser: %s\n", challenge.LoginURL)
	}
	if pngPath == "" {
		return nil
	}
	return writeQRImage(pngPath, challenge, image)
}

// writeQRImage stores the image served by the cloud, or renders the login link when
// the download came back empty.
func writeQRImage(path string, challenge cloud.QRChallenge, image []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if len(image) > 0 {
		return os.WriteFile(path, image, 0o644)
	}
	if challenge.LoginURL == "" {
		return fmt.Errorf("no QR image or login link to write")
	}
	return qrcode.WriteFile(challenge.LoginURL, qrcode.Low, 512, path)
}
