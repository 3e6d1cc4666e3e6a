package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/llmc/pkg/llmc"
)

func writeJSON(c *echo.Context, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res.WriteHeader(status)
	_, err = res.Write(b)
	return err
}

func writeBinary(c *echo.Context, data []byte) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/octet-stream")
	res.Header().Set("Content-Length", strconv.Itoa(len(data)))
	res.WriteHeader(http.StatusOK)
	_, err := res.Write(data)
	return err
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return writeJSON(c, status, ErrorResponse{
		Error: ResponseError{Message: msg, Type: errType},
	})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, errTypeInvalidRequest, msg)
}

// writeCodecError maps a codec failure onto a status code: malformed input
// is the client's fault, a backend failure on well-formed input is not
// processable, anything else is a server error.
func writeCodecError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, llmc.ErrFormat):
		return writeError(c, http.StatusBadRequest, errTypeFormat, err.Error())
	case errors.Is(err, llmc.ErrBackend):
		return writeError(c, http.StatusUnprocessableEntity, errTypeBackend, err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, errTypeServer, err.Error())
	}
}

// readBody reads the request body up to limit bytes. A larger body reports
// errBodyTooLarge.
func readBody(c *echo.Context, limit int64) ([]byte, error) {
	body := c.Request().Body
	if limit > 0 {
		body = http.MaxBytesReader(c.Response(), body, limit)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, err
	}
	return data, nil
}

var errBodyTooLarge = errors.New("request body too large")

func queryInt(c *echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, newInvalidRequest("query parameter %s: %q is not an integer", name, v)
	}
	return n, nil
}
