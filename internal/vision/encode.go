package vision

import (
	"encoding/base64"
	"io"
)

// EncodedImage is an image ready to be embedded in a model request.
type EncodedImage struct {
	Data     string
	MimeType string
}

// ReadImage reads the whole image into memory. Inputs are single photos, so
// the payload is not streamed.
func ReadImage(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &Error{Kind: KindInput, Op: "read image", Err: err}
	}
	return data, nil
}

// EncodeImage reads r and returns its base64 encoding with the given MIME type.
func EncodeImage(r io.Reader, mimeType string) (*EncodedImage, error) {
	data, err := ReadImage(r)
	if err != nil {
		return nil, err
	}
	return &EncodedImage{
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	}, nil
}
