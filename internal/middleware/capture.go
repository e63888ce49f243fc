package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
)

// captureWriter forwards the response to the client while keeping a copy
// of the status and up to limit bytes of the body.
type captureWriter struct {
	http.ResponseWriter
	status    int
	buf       bytes.Buffer
	size      int64
	limit     int64
	truncated bool
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit > 0 && cw.size+int64(len(b)) > cw.limit {
		cw.truncated = true
	} else {
		cw.buf.Write(b)
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// capture swaps the response writer of c for a captureWriter.
func capture(c echo.Context, limit int64) *captureWriter {
	cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: limit}
	c.Response().Writer = cw
	return cw
}

// storedResponse is a response saved in Redis for replay.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
	// BodyHash is the digest of the request that produced the response.
	BodyHash string `json:"body_hash,omitempty"`
}

func snapshot(c echo.Context, cw *captureWriter) storedResponse {
	return storedResponse{
		Status:      cw.status,
		ContentType: c.Response().Header().Get(echo.HeaderContentType),
		Body:        cw.buf.Bytes(),
	}
}

func encodeResponse(c echo.Context, cw *captureWriter) ([]byte, error) {
	return json.Marshal(snapshot(c, cw))
}

func decodeResponse(raw []byte) (storedResponse, bool) {
	var s storedResponse
	if err := json.Unmarshal(raw, &s); err != nil || s.Status == 0 {
		return storedResponse{}, false
	}
	return s, true
}

// replay writes a stored response to the client.
func replay(c echo.Context, s storedResponse, header, value string) error {
	if s.ContentType != "" {
		c.Response().Header().Set(echo.HeaderContentType, s.ContentType)
	}
	c.Response().Header().Set(header, value)
	return c.Blob(s.Status, s.ContentType, s.Body)
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }
