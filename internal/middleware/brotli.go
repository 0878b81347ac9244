package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

const brotliMinLength = 1024

// Brotli compresses responses for clients that advertise "br" support.
// Bodies under brotliMinLength are passed through unchanged: the session
// endpoints mostly return small JSON acks where compression costs more than
// it saves, while the assessment paper payload crosses the threshold.
func Brotli() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !acceptsBrotli(c.Request) || mustStream(c) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		bw := &brotliWriter{
			ResponseWriter: c.Writer,
			writer:         brotli.NewWriterLevel(c.Writer, brotli.DefaultCompression),
			minLength:      brotliMinLength,
		}
		c.Writer = bw

		defer func() {
			if err := bw.drain(); err != nil {
				_ = c.Error(err)
			}
			if bw.compressed {
				bw.writer.Close()
			}
		}()

		c.Next()
	}
}

// brotliWriter buffers output until it knows whether the body is worth
// compressing. Once the threshold is crossed the Content-Encoding header is
// committed and everything goes through the brotli writer.
type brotliWriter struct {
	gin.ResponseWriter
	writer     *brotli.Writer
	buf        []byte
	minLength  int
	once       sync.Once
	compressed bool
}

func (bw *brotliWriter) Write(data []byte) (int, error) {
	bw.buf = append(bw.buf, data...)
	if len(bw.buf) < bw.minLength {
		return len(data), nil
	}

	bw.once.Do(func() {
		bw.compressed = true
		bw.ResponseWriter.Header().Set("Content-Encoding", "br")
		bw.ResponseWriter.Header().Del("Content-Length")
	})
	n, err := bw.writer.Write(bw.buf)
	bw.buf = bw.buf[:0]
	return n, err
}

func (bw *brotliWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

// Flush is called by streaming endpoints. The pending buffer goes out so the
// client is never left waiting on a partial frame.
func (bw *brotliWriter) Flush() {
	_ = bw.drain()
	if bw.compressed {
		_ = bw.writer.Flush()
	}
	bw.ResponseWriter.Flush()
}

// drain writes any pending remainder: through the brotli stream once the
// encoding is committed, directly otherwise.
func (bw *brotliWriter) drain() error {
	if len(bw.buf) == 0 {
		return nil
	}
	var err error
	if bw.compressed {
		_, err = bw.writer.Write(bw.buf)
	} else {
		_, err = bw.ResponseWriter.Write(bw.buf)
	}
	bw.buf = bw.buf[:0]
	return err
}

// mustStream reports protocols that break if the response is buffered or
// wrapped: SSE needs immediate writes and the WebSocket Upgrade handshake
// needs the raw connection.
func mustStream(c *gin.Context) bool {
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(strings.ToLower(enc)) == "br" {
			return true
		}
	}
	return false
}
