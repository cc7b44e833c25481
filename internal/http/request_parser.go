// This file implements utilities for parsing and validating request data.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tally/internal/core"
)

// DefaultMaxUploadBytes bounds CSV uploads.
const DefaultMaxUploadBytes = 5 << 20

// ParseMonthParam parses a required "YYYY-MM" value.
func ParseMonthParam(name, v string) (core.Date, error) {
	m, err := core.ParseMonth(v)
	if err != nil {
		return core.Date{}, core.Validationf("%s: %v", name, err)
	}
	return m, nil
}

// ParseRangeParams reads from/to. Each accepts a day ("2024-01-15") or a
// month ("2024-01"); a month expands to its first day for from and its last
// day for to. Missing values default to the current month.
func ParseRangeParams(r *http.Request, now time.Time) (from, to core.Date, err error) {
	q := r.URL.Query()
	from = core.MonthStart(now)
	to = core.MonthEnd(now)

	if v := strings.TrimSpace(q.Get("from")); v != "" {
		if from, err = parseBound(v, false); err != nil {
			return core.Date{}, core.Date{}, core.Validationf("from: %v", err)
		}
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		if to, err = parseBound(v, true); err != nil {
			return core.Date{}, core.Date{}, core.Validationf("to: %v", err)
		}
	}
	if to.Before(from.Time) {
		return core.Date{}, core.Date{}, core.Validationf("to %s precedes from %s", to, from)
	}
	return from, to, nil
}

func parseBound(v string, end bool) (core.Date, error) {
	if len(v) == len(core.MonthLayout) {
		m, err := core.ParseMonth(v)
		if err != nil {
			return core.Date{}, err
		}
		if end {
			return core.MonthEnd(m.Time), nil
		}
		return m, nil
	}
	t, err := time.Parse(core.DateLayout, v)
	if err != nil {
		return core.Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or YYYY-MM", v)
	}
	return core.DateOf(t), nil
}

// ParseBoolParam treats a missing value as false.
func ParseBoolParam(r *http.Request, name string) (bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, core.Validationf("%s: want true or false", name)
	}
	return b, nil
}

// ParseIntParam returns def when the value is missing.
func ParseIntParam(r *http.Request, name string, def int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.Validationf("%s: want an integer", name)
	}
	return n, nil
}

// Upload is a file read from a request.
type Upload struct {
	Filename string
	Body     []byte
}

// ReadUpload accepts either a multipart form with a "file" part or the raw
// CSV as the request body.
func ReadUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (Upload, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return Upload{}, uploadError(err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return Upload{}, core.Validationf("multipart upload needs a \"file\" part")
		}
		defer f.Close()
		body, err := io.ReadAll(f)
		if err != nil {
			return Upload{}, uploadError(err)
		}
		return Upload{Filename: filepath.Base(hdr.Filename), Body: body}, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return Upload{}, uploadError(err)
	}
	name := strings.TrimSpace(r.URL.Query().Get("filename"))
	if name == "" {
		name = "upload.csv"
	}
	return Upload{Filename: filepath.Base(name), Body: body}, nil
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return core.Validationf("upload exceeds %d bytes", tooLarge.Limit)
	}
	return core.Validationf("read upload: %v", err)
}

// DecodeJSON reads a single JSON object into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.Validationf("invalid JSON body: %v", err)
	}
	return nil
}
