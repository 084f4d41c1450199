package internal_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ttab/elephant-versionlog/internal"
	"github.com/ttab/elephantine/test"
)

func TestHTTPStatus(t *testing.T) {
	wrapped := fmt.Errorf("read record: %w",
		internal.HTTPErrorf(http.StatusNotFound, "no record %q", "p-1"))

	test.Equal(t, http.StatusNotFound, internal.HTTPStatus(wrapped),
		"use the status of a wrapped HTTP error")
	test.Equal(t, http.StatusInternalServerError,
		internal.HTTPStatus(errors.New("boom")),
		"plain errors are internal errors")
}

func TestWriteHTTPError(t *testing.T) {
	rec := httptest.NewRecorder()

	internal.WriteHTTPError(rec,
		internal.HTTPErrorf(http.StatusConflict, "version %d taken", 3))

	test.Equal(t, http.StatusConflict, rec.Code, "write the error status")
	test.Equal(t, "version 3 taken", rec.Body.String(), "write the message")
	test.Equal(t, "text/plain", rec.Header().Get("Content-Type"),
		"write the error headers")

	rec = httptest.NewRecorder()

	internal.WriteHTTPError(rec, errors.New("boom"))

	test.Equal(t, http.StatusInternalServerError, rec.Code,
		"plain errors are internal errors")
}
