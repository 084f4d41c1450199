package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
)

type HTTPError struct {
	Status     string
	StatusCode int
	Header     http.Header
	Body       io.Reader
}

func (e *HTTPError) Error() string {
	return e.Status
}

func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{
		Status:     message,
		StatusCode: statusCode,
		Header: http.Header{
			"Content-Type": []string{"text/plain"},
		},
		Body: strings.NewReader(message),
	}
}

func HTTPErrorf(statusCode int, format string, a ...any) *HTTPError {
	return NewHTTPError(statusCode, fmt.Sprintf(format, a...))
}

// HTTPStatus returns the status code that an error should be reported
// with.
func HTTPStatus(err error) int {
	var httpErr *HTTPError

	if !errors.As(err, &httpErr) || httpErr.StatusCode == 0 {
		return http.StatusInternalServerError
	}

	return httpErr.StatusCode
}

func RHandleFunc(
	fn func(http.ResponseWriter, *http.Request, httprouter.Params) error,
) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		err := fn(w, r, p)
		if err != nil {
			WriteHTTPError(w, err)
		}
	}
}

func WriteHTTPError(w http.ResponseWriter, err error) {
	var httpErr *HTTPError

	if !errors.As(err, &httpErr) {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	if httpErr.Header != nil {
		for k, v := range httpErr.Header {
			w.Header()[k] = v
		}
	}

	w.WriteHeader(HTTPStatus(err))

	_, _ = io.Copy(w, httpErr.Body)
}

func ListenAndServeContext(ctx context.Context, server *http.Server) error {
	go func() {
		<-ctx.Done()

		_ = server.Close()
	}()

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to start listening: %w", err)
	}

	return nil
}
