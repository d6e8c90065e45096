package httpx

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// AcceptEncoding is advertised on outgoing requests; DecodeChain understands every entry.
const AcceptEncoding = "gzip, br, zstd, deflate"

// DecodeChain decodes a response body according to its Content-Encoding value.
// Chained encodings ("gzip, br") are undone right to left. The decoded size is
// capped at limit bytes (limit <= 0 disables the cap) and overflow yields ErrBodyTooLarge.
func DecodeChain(contentEncoding string, body []byte, limit int) ([]byte, error) {
	if contentEncoding == "" {
		return body, nil
	}
	encodings := strings.Split(contentEncoding, ",")
	for i := len(encodings) - 1; i >= 0; i-- {
		var (
			r   io.Reader
			err error
		)
		switch strings.TrimSpace(strings.ToLower(encodings[i])) {
		case "br":
			r = brotli.NewReader(bytes.NewReader(body))
		case "gzip":
			var gr *gzip.Reader
			gr, err = gzip.NewReader(bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			defer gr.Close()
			r = gr
		case "zstd":
			var dec *zstd.Decoder
			dec, err = zstd.NewReader(bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			defer dec.Close()
			r = dec
		case "deflate":
			// zlib-wrapped per RFC, raw deflate as fallback
			zr, zerr := zlib.NewReader(bytes.NewReader(body))
			if zerr == nil {
				defer zr.Close()
				r = zr
			} else {
				fr := flate.NewReader(bytes.NewReader(body))
				defer fr.Close()
				r = fr
			}
		case "compress", "identity", "":
			continue
		default:
			return nil, fmt.Errorf("unsupported content-encoding: %q", encodings[i])
		}
		body, err = readLimited(r, limit)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

func readLimited(r io.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, ErrBodyTooLarge
	}
	return out, nil
}
