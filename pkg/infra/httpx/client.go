package httpx

import (
	"errors"
	"net/http"
)

var (
	ErrBodyTooLarge = errors.New("response body exceeds configured limit")
	ErrClosed       = errors.New("http client is closed")
)

type Client interface {
	Do(req *http.Request) (*http.Response, error)
}
