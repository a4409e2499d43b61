package detect

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	_ "image/png" // frontends occasionally send PNG snapshots
	"strings"
)

// jpegQuality is fixed so encoded frames are reproducible.
const jpegQuality = 80

// DecodeFrame converts a base64-encoded image payload into a raster image.
// A data-URL prefix ("data:image/jpeg;base64,") is tolerated. Malformed
// payloads return a *DecodeError; garbled-but-valid image bytes decode to
// whatever the codec produces and are not an error here.
func DecodeFrame(payload string) (image.Image, error) {
	if payload == "" {
		return nil, &DecodeError{Err: errors.New("empty payload")}
	}
	if idx := strings.IndexByte(payload, ','); idx >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return img, nil
}

// EncodeFrame converts a raster image into a base64 JPEG payload at the
// fixed wire quality.
func EncodeFrame(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
