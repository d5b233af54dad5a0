// Package httputil holds helpers for the HTTP endpoints of the commands.
package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("httputil")

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON encodes v as the response body. An error value is sent as an
// ErrorBody. The "pretty" query flag indents the output; a malformed flag
// turns the response into a 400.
func WriteJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	pretty, err := QueryBool(r, "pretty", false)
	if err != nil {
		code, v = http.StatusBadRequest, err
	}
	if err, ok := v.(error); ok {
		v = ErrorBody{Error: err.Error()}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		log.WithError(err).Errorf("Failed to encode %T response for %s", v, r.URL.Path)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.WithError(err).Debugf("Failed to write response for %s", r.URL.Path)
	}
}

// QueryBool reads a boolean query parameter, accepting "on" and "off" as well
// as everything strconv.ParseBool does. A missing parameter yields def.
func QueryBool(r *http.Request, key string, def bool) (bool, error) {
	q := r.URL.Query().Get(key)
	switch strings.ToLower(q) {
	case "":
		return def, nil
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	v, err := strconv.ParseBool(q)
	if err != nil {
		return false, errors.Errorf("invalid %q query value %q", key, q)
	}
	return v, nil
}
