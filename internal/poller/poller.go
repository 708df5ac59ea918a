// Package poller runs the fetch → derive → log → publish cycle for one
// PurpleAir sensor.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/andrewgho/purpleair/internal/atomicfile"
	"github.com/andrewgho/purpleair/internal/schedule"
	"github.com/andrewgho/purpleair/internal/sensor"
)

const timeLayout = "2006-01-02T15:04:05"

// Record is one cycle's derived values. Pm25 is the mean of the two
// channel readings rounded half away from zero (math.Round); see the
// rounding tests, which pin that choice.
type Record struct {
	Timestamp   time.Time
	Temperature float64
	Humidity    float64
	Pm25        int
	Pm25RawA    float64
	Pm25RawB    float64
	AQI         *float64
	AQIColor    string
}

// state is the JSON shape published to the state file.
type state struct {
	LastUpdated int64    `json:"last_updated"`
	Temperature float64  `json:"temperature"`
	Humidity    float64  `json:"humidity"`
	Pm25        int      `json:"pm25"`
	Pm25RawA    float64  `json:"pm25_raw_a"`
	Pm25RawB    float64  `json:"pm25_raw_b"`
	AQI         *float64 `json:"pm25_aqi,omitempty"`
	AQIColor    string   `json:"pm25_aqi_color,omitempty"`
}

// Fetcher yields one raw reading per call. *sensor.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context) (sensor.Reading, error)
}

// Poller owns the per-cycle pipeline. Collaborators are injected at
// construction; there is no ambient global state.
type Poller struct {
	fetcher   Fetcher
	data      io.Writer
	statePath string
	logger    log.Logger

	mutex         sync.RWMutex
	last          *Record
	cycles        float64
	fetchFailures float64
	publishes     float64
}

// New wires a poller. data receives one tab-separated line per successful
// cycle; statePath may be empty to disable state publication.
func New(fetcher Fetcher, data io.Writer, statePath string, logger log.Logger) *Poller {
	return &Poller{
		fetcher:   fetcher,
		data:      data,
		statePath: statePath,
		logger:    logger,
	}
}

// Derive extracts the required fields from a raw reading and computes the
// averaged PM2.5 value. A missing or non-numeric required field is an
// error; the optional AQI fields are carried through when present.
func Derive(now time.Time, r sensor.Reading) (*Record, error) {
	required := []sensor.SensorField{
		sensor.Pm25ChannelA, sensor.Pm25ChannelB, sensor.Temperature, sensor.Humidity,
	}
	values := make(map[sensor.SensorField]float64, len(required))
	for _, field := range required {
		v, ok := r.Float(field)
		if !ok {
			return nil, fmt.Errorf("reading is missing numeric field %q", field)
		}
		values[field] = v
	}

	a, b := values[sensor.Pm25ChannelA], values[sensor.Pm25ChannelB]
	rec := &Record{
		Timestamp:   now,
		Temperature: values[sensor.Temperature],
		Humidity:    values[sensor.Humidity],
		Pm25:        int(math.Round((a + b) / 2)),
		Pm25RawA:    a,
		Pm25RawB:    b,
	}
	if aqi, ok := r.Float(sensor.AQI); ok {
		rec.AQI = &aqi
	}
	if color, ok := r.String(sensor.AQIColor); ok {
		rec.AQIColor = color
	}
	return rec, nil
}

// Line renders the record as one tab-separated timeseries line, local time.
func (r *Record) Line() string {
	cols := []string{
		r.Timestamp.Format(timeLayout),
		strconv.FormatFloat(r.Temperature, 'f', -1, 64),
		strconv.FormatFloat(r.Humidity, 'f', -1, 64),
		strconv.Itoa(r.Pm25),
		strconv.FormatFloat(r.Pm25RawA, 'f', -1, 64),
		strconv.FormatFloat(r.Pm25RawB, 'f', -1, 64),
	}
	return strings.Join(cols, "\t") + "\n"
}

// Cycle performs one poll. Fetch and field-extraction failures are logged
// and skip the rest of the cycle without error; failures writing the
// timeseries line or publishing state propagate and are fatal to the loop.
// Cancelling ctx interrupts a fetch that is blocking on the sensor.
func (p *Poller) Cycle(ctx context.Context, now time.Time) error {
	p.mutex.Lock()
	p.cycles++
	p.mutex.Unlock()

	reading, err := p.fetcher.Fetch(ctx)
	if err != nil {
		p.skip()
		return nil
	}

	rec, err := Derive(now, reading)
	if err != nil {
		level.Error(p.logger).Log("msg", "discarding unusable reading", "err", err)
		p.skip()
		return nil
	}

	if _, err := io.WriteString(p.data, rec.Line()); err != nil {
		return fmt.Errorf("append timeseries line: %w", err)
	}
	if err := flush(p.data); err != nil {
		return fmt.Errorf("flush timeseries stream: %w", err)
	}

	if p.statePath != "" {
		if err := p.publishState(rec); err != nil {
			return err
		}
		p.mutex.Lock()
		p.publishes++
		p.mutex.Unlock()
	}

	p.mutex.Lock()
	p.last = rec
	p.mutex.Unlock()
	return nil
}

func (p *Poller) skip() {
	p.mutex.Lock()
	p.fetchFailures++
	p.mutex.Unlock()
}

// publishState atomically replaces the state file with a pretty-printed
// JSON snapshot of the record.
func (p *Poller) publishState(rec *Record) error {
	s := state{
		LastUpdated: rec.Timestamp.Unix(),
		Temperature: rec.Temperature,
		Humidity:    rec.Humidity,
		Pm25:        rec.Pm25,
		Pm25RawA:    rec.Pm25RawA,
		Pm25RawB:    rec.Pm25RawB,
		AQI:         rec.AQI,
		AQIColor:    rec.AQIColor,
	}
	err := atomicfile.Publish(p.statePath, func(w io.Writer) error {
		buf, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		buf = append(buf, '\n')
		_, err = w.Write(buf)
		return err
	})
	if err != nil {
		return fmt.Errorf("publish state: %w", err)
	}
	return nil
}

// flush makes the line durable before the next cycle. File-backed streams
// sync to disk; plain writers (test buffers) have nothing to do, and
// character devices like a terminal on stdout reject fsync.
func flush(w io.Writer) error {
	s, ok := w.(interface{ Sync() error })
	if !ok {
		return nil
	}
	if err := s.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTSUP) {
		return err
	}
	return nil
}

// Run drives cycles at the given period until ctx is cancelled or a cycle
// fails. Cancellation interrupts the inter-cycle sleep and any fetch that
// is blocking on the sensor. Returns ctx.Err() on cancellation, the
// cycle's error otherwise.
func (p *Poller) Run(ctx context.Context, period time.Duration) error {
	var cycleErr error
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := schedule.Run(cctx, period, func(now time.Time) {
		if cerr := p.Cycle(cctx, now); cerr != nil {
			cycleErr = cerr
			cancel()
		}
	})
	if cycleErr != nil {
		return cycleErr
	}
	return err
}

// Last returns the most recent successful cycle's record, nil before one.
func (p *Poller) Last() *Record {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.last
}
