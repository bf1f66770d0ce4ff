package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"saldo/internal/core"
)

const maxBodyBytes = 1 << 20

var errMalformedBody = errors.New("malformed request body")

// decodeJSON reads a JSON body into dst and runs the struct validator.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", errMalformedBody)
	}
	return s.validate.Struct(dst)
}

// decodeDocument reads a loosely typed JSON object. Numbers stay json.Number
// so amounts keep their exact decimal text.
func decodeDocument(w http.ResponseWriter, r *http.Request) (core.Document, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	var doc core.Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty body", errMalformedBody)
		}
		return nil, fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: expected an object", errMalformedBody)
	}
	return doc, nil
}

// userParam reads the optional ?user= filter.
func userParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("user"))
}
