package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultPingTimeout = 5 * time.Second
	maxBodyBytes       = 1 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL  string
	Language string
	// Transport is the chain used by every endpoint except Ping.
	Transport http.RoundTripper
	// PingTransport is used by Ping only. Defaults to http.DefaultTransport.
	PingTransport http.RoundTripper
	Timeout       time.Duration
	PingTimeout   time.Duration
	Logger        logrus.FieldLogger
}

// Client is safe for concurrent use.
type Client struct {
	base     *url.URL
	lang     string
	http     *http.Client
	ping     *http.Client
	validate *validator.Validate
	log      logrus.FieldLogger
}

// New creates a Client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.New("base url must be http or https")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	if opts.PingTransport == nil {
		opts.PingTransport = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger().WithField("pkg", "api")
	}

	return &Client{
		base:     base,
		lang:     opts.Language,
		http:     &http.Client{Transport: opts.Transport, Timeout: opts.Timeout},
		ping:     &http.Client{Transport: opts.PingTransport, Timeout: opts.PingTimeout},
		validate: newValidator(),
		log:      opts.Logger,
	}, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Language returns the Accept-Language value sent with every request.
func (c *Client) Language() string {
	return c.lang
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) check(req any) error {
	err := c.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	verr := &ValidationError{Message: "invalid request", Fields: make(map[string][]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		verr.Fields[fe.Field()] = append(verr.Fields[fe.Field()], fieldMessage(fe))
	}
	return verr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", fe.Field(), fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range", fe.Field())
	case "eqfield":
		return fmt.Sprintf("%s must match %s", fe.Field(), fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must be a date formatted as %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	if in != nil {
		if err := c.check(in); err != nil {
			return err
		}
	}

	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	_, err := c.do(ctx, http.MethodPost, path, body, contentType, out)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	_, err := c.do(ctx, http.MethodGet, path, nil, "", out)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return 0, err
	}

	rid := requestID(ctx)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.lang != "" {
		req.Header.Set("Accept-Language", c.lang)
	}
	req.Header.Set("X-Request-ID", rid)

	entry := c.log.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"request_id": rid,
	})

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		entry.WithError(err).Warn("backend request failed")
		return 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	entry.WithFields(logrus.Fields{
		"status": resp.StatusCode,
		"took":   time.Since(start),
	}).Debug("backend request")

	raw = bytes.TrimSpace(raw)
	var env envelope
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env)
	}

	status := resp.StatusCode
	switch {
	case status >= 500:
		return status, &Error{Status: status, Message: env.Message, RequestID: rid, Err: ErrServiceUnavailable}
	case status == http.StatusUnauthorized:
		return status, &Error{Status: status, Message: env.Message, RequestID: rid, Err: ErrAuthExpired}
	case status < 200 || status > 299:
		return status, &ValidationError{
			Status:        status,
			Message:       env.Message,
			Fields:        env.Errors,
			RequiresProof: env.RequiresProof,
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return status, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}
	return status, nil
}
