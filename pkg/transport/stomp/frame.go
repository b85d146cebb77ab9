package stomp

import (
	"bytes"
	"io"
	"strconv"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/pkg/errors"
)

var ErrMalformedFrame = errors.New("malformed stomp frame")

// encode renders f as the payload of one websocket text message. A body always
// travels with its content-length.
func encode(f *frame.Frame) ([]byte, error) {
	if len(f.Body) > 0 {
		if _, ok := f.Header.Contains("content-length"); !ok {
			f.Header.Set("content-length", strconv.Itoa(len(f.Body)))
		}
	}
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, errors.Wrapf(err, "encode %s frame", f.Command)
	}
	return buf.Bytes(), nil
}

// decode reads the frame carried by one websocket message. A message made only of
// end-of-lines is a heart-beat and decodes to nil.
func decode(data []byte) (*frame.Frame, error) {
	if len(bytes.TrimLeft(data, "\r\n")) == 0 {
		return nil, nil
	}
	r := frame.NewReader(bytes.NewReader(data))
	for {
		f, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, errors.Wrap(ErrMalformedFrame, err.Error())
		}
		if f != nil {
			return f, nil
		}
	}
}

// errorText is the human-readable part of an ERROR frame.
func errorText(f *frame.Frame) string {
	msg := f.Header.Get("message")
	if len(f.Body) > 0 {
		if msg != "" {
			return msg + ": " + string(f.Body)
		}
		return string(f.Body)
	}
	return msg
}
