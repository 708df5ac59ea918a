// Package sensor fetches one reading at a time from a PurpleAir sensor's
// local HTTP JSON endpoint.
package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
)

// SensorField names a key in the sensor's JSON payload.
type SensorField string

const (
	Pm25ChannelA SensorField = "pm2_5_cf_1"
	Pm25ChannelB SensorField = "pm2_5_cf_1_b"
	Temperature  SensorField = "current_temp_f"
	Humidity     SensorField = "current_humidity"
	AQI          SensorField = "pm2.5_aqi"
	AQIColor     SensorField = "p25aqic"
)

// Reading is the raw decoded JSON payload from one poll. The client does
// not validate which fields are present; callers extract what they need.
type Reading map[string]any

// FailureKind classifies why a fetch produced no reading.
type FailureKind int

const (
	KindConnect FailureKind = iota
	KindStatus
	KindEmptyBody
	KindParse
)

// FetchError is the non-fatal failure a poll cycle sees when the sensor
// could not produce a reading.
type FetchError struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindConnect:
		return fmt.Sprintf("could not connect: %v", e.Err)
	case KindStatus:
		return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
	case KindEmptyBody:
		return "empty body"
	default:
		return fmt.Sprintf("malformed JSON: %v", e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client polls a single sensor. It owns the HTTP connection lifecycle for
// each call; the logger is an injected collaborator.
type Client struct {
	resty  *resty.Client
	url    string
	logger log.Logger
}

// Option adjusts Client construction.
type Option func(*Client)

// WithTimeout bounds each fetch. The sensor's reference client blocks
// indefinitely; callers opt in to a deadline as a hardening measure.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.resty.SetTimeout(d) }
}

// New returns a client for the sensor at the given hostname, plain HTTP on
// the default port.
func New(host string, logger log.Logger, opts ...Option) *Client {
	c := &Client{
		resty:  resty.New(),
		url:    fmt.Sprintf("http://%s/json", host),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch performs one GET against the sensor and decodes the response body.
// All failures come back as *FetchError; none are fatal to the caller.
// Cancelling ctx interrupts a blocking request.
func (c *Client) Fetch(ctx context.Context) (Reading, error) {
	level.Debug(c.logger).Log("msg", "fetching reading", "url", c.url)

	resp, err := c.resty.R().SetContext(ctx).Get(c.url)
	if err != nil {
		ferr := &FetchError{Kind: KindConnect, Err: err}
		level.Error(c.logger).Log("msg", "could not connect to sensor, will try again later", "url", c.url, "err", err)
		return nil, ferr
	}

	body := resp.Body()
	level.Debug(c.logger).Log("msg", "sensor response received", "status", resp.StatusCode(), "body", string(body))

	if resp.StatusCode() != 200 {
		ferr := &FetchError{Kind: KindStatus, StatusCode: resp.StatusCode()}
		level.Error(c.logger).Log("msg", "sensor returned unexpected status", "status", resp.StatusCode())
		return nil, ferr
	}
	if len(body) == 0 {
		ferr := &FetchError{Kind: KindEmptyBody}
		level.Error(c.logger).Log("msg", "sensor returned empty body")
		return nil, ferr
	}

	var reading Reading
	if err := json.Unmarshal(body, &reading); err != nil {
		ferr := &FetchError{Kind: KindParse, Err: err}
		level.Error(c.logger).Log("msg", "sensor returned malformed JSON", "err", err)
		return nil, ferr
	}
	// A literal null decodes to a nil map without error; callers are owed
	// either a reading or a failure, never both nil.
	if reading == nil {
		ferr := &FetchError{Kind: KindParse, Err: errors.New("payload is not a JSON object")}
		level.Error(c.logger).Log("msg", "sensor returned malformed JSON", "err", ferr.Err)
		return nil, ferr
	}
	return reading, nil
}

// Float extracts a numeric field from the reading.
func (r Reading) Float(field SensorField) (float64, bool) {
	v, ok := r[string(field)].(float64)
	return v, ok
}

// String extracts a string field from the reading.
func (r Reading) String(field SensorField) (string, bool) {
	v, ok := r[string(field)].(string)
	return v, ok
}
