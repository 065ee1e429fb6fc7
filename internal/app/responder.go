package app

import (
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Respond drains stream, calling onUpdate with the accumulated text after every
// fragment. If the stream fails, the returned text is "Error: <failure>" in place
// of whatever had accumulated, and the failure is returned alongside it.
// The stream is closed on return.
func Respond(stream *schema.StreamReader[string], onUpdate func(partial string)) (string, error) {
	defer stream.Close()

	var sb strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return streamErrorText(err), err
		}
		sb.WriteString(fragment)
		if onUpdate != nil {
			onUpdate(sb.String())
		}
	}
}

func streamErrorText(err error) string {
	return "Error: " + err.Error()
}
