package http

import (
	"bytes"
	"net/http"
)

// ResponseBuffer is an http.ResponseWriter holding the response in memory until
// the request transaction is resolved.
type ResponseBuffer struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

var _ http.ResponseWriter = (*ResponseBuffer)(nil)

func NewResponseBuffer() *ResponseBuffer {
	return &ResponseBuffer{header: http.Header{}}
}

func (b *ResponseBuffer) Header() http.Header {
	return b.header
}

func (b *ResponseBuffer) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = code
}

func (b *ResponseBuffer) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	return b.body.Write(p)
}

// Status returns the status written so far, http.StatusOK if none.
func (b *ResponseBuffer) Status() int {
	if !b.wroteHeader {
		return http.StatusOK
	}
	return b.status
}

// Written reports whether a status or body was written.
func (b *ResponseBuffer) Written() bool {
	return b.wroteHeader
}

func (b *ResponseBuffer) Body() []byte {
	return b.body.Bytes()
}

// FlushTo copies headers, status and body to w.
func (b *ResponseBuffer) FlushTo(w http.ResponseWriter) error {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	w.WriteHeader(b.Status())
	_, err := w.Write(b.body.Bytes())
	return err
}
