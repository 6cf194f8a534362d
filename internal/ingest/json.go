package ingest

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/relay-ci/revpipe/internal/transport"
)

func decodeJSON(r io.Reader, out interface{}) error {
	dec := json.NewDecoder(r)
	return dec.Decode(out)
}

// asTransportError unwraps err looking for a *transport.Error, including
// through the ingest package's own IngestFatal wrapper.
func asTransportError(err error, out **transport.Error) bool {
	var fatal *IngestFatal
	if errors.As(err, &fatal) {
		err = fatal.Cause
	}
	return errors.As(err, out)
}
