package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/v2rayroot/v2root-go/internal/model"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBytes     = 5 * 1024 * 1024
	defaultMaxRedirects = 5
)

// FetchOptions tune the subscription download. Zero values take defaults.
type FetchOptions struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
}

// FetchError reports a failed subscription download.
type FetchError struct {
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func (e *FetchError) BoundaryCode() int { return model.CodeNetwork }

var (
	errTooManyRedirects  = errors.New("too many redirects")
	errRedirectBadScheme = errors.New("redirect target scheme is not http/https")
)

// Fetch downloads the subscription document at rawURL and returns it as
// text. Only http and https URLs are accepted, redirects are capped, the
// body is size-limited, and the result must be valid UTF-8.
func Fetch(ctx context.Context, rawURL string) (string, error) {
	return FetchWithOptions(ctx, rawURL, FetchOptions{})
}

func FetchWithOptions(ctx context.Context, rawURL string, opt FetchOptions) (string, error) {
	timeout := opt.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxRedirects := opt.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = defaultMaxRedirects
	}
	maxBytes := opt.MaxBytes
	if maxBytes == 0 {
		maxBytes = defaultMaxBytes
	}

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &FetchError{
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "only http/https subscription URLs are allowed",
				Stage:   "fetch_sub",
				Field:   rawURL,
			},
			Cause: err,
		}
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: http.DefaultTransport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &FetchError{
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "subscription URL is not a valid request target",
				Stage:   "fetch_sub",
				Field:   rawURL,
			},
			Cause: err,
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, errTooManyRedirects):
			return "", fetchFailed(rawURL, fmt.Sprintf("redirect chain longer than %d", maxRedirects), err)
		case errors.Is(err, errRedirectBadScheme):
			return "", &FetchError{
				AppError: model.AppError{
					Code:    "INVALID_ARGUMENT",
					Message: "redirect target must be http/https",
					Stage:   "fetch_sub",
					Field:   rawURL,
				},
				Cause: err,
			}
		case isTimeout(err):
			return "", &FetchError{
				AppError: model.AppError{
					Code:    "FETCH_TIMEOUT",
					Message: "subscription download timed out",
					Stage:   "fetch_sub",
					Field:   rawURL,
				},
				Cause: err,
			}
		default:
			return "", fetchFailed(rawURL, "subscription download failed", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fetchFailed(rawURL, fmt.Sprintf("upstream returned status %d", resp.StatusCode), nil)
	}

	// Read one byte past the cap so overflow is detected deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return "", &FetchError{
				AppError: model.AppError{
					Code:    "FETCH_TIMEOUT",
					Message: "subscription download timed out",
					Stage:   "fetch_sub",
					Field:   rawURL,
				},
				Cause: err,
			}
		}
		return "", fetchFailed(rawURL, "reading subscription body failed", err)
	}
	if int64(len(body)) > maxBytes {
		return "", fetchFailed(rawURL, fmt.Sprintf("subscription larger than %d bytes", maxBytes), nil)
	}
	if !utf8.Valid(body) {
		return "", &FetchError{
			AppError: model.AppError{
				Code:    "FETCH_INVALID_UTF8",
				Message: "subscription body is not valid UTF-8 text",
				Stage:   "fetch_sub",
				Field:   rawURL,
			},
		}
	}
	return string(body), nil
}

func fetchFailed(rawURL, message string, cause error) *FetchError {
	return &FetchError{
		AppError: model.AppError{
			Code:    "FETCH_FAILED",
			Message: message,
			Stage:   "fetch_sub",
			Field:   rawURL,
		},
		Cause: cause,
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
