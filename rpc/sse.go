package rpc

import (
	"encoding/json"
	"fmt"
	"io"

	"bundle.dev/core/event"
)

// EncodeSSE renders e in the "event: <kind>\ndata: <json>\n\n" framing
// spec.md §6 specifies, for a transport layer to write directly onto a
// localhost SSE connection; cmd/bundle writes the frames to stdout.
func EncodeSSE(w io.Writer, e event.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, body)
	return err
}
