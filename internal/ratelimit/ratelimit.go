// Package ratelimit provides a token bucket used to cap transfer bandwidth.
//
// The server's event loop cannot sleep, so it asks the bucket how long a
// chunk must wait (Delay) and schedules the chunk itself. The client, which
// transfers on its own goroutine, uses the blocking Reader wrapper.
package ratelimit

import (
	"io"
	"sync"
	"time"
)

// Limiter implements a token bucket limiting data to a number of bytes per
// second, with a burst capacity of one second worth of data.
type Limiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// New creates a limiter for bytesPerSecond. A non-positive rate means
// unlimited and returns nil; every method accepts a nil receiver.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	rate := float64(bytesPerSecond)
	return &Limiter{
		rate:       rate,
		burst:      rate,
		tokens:     rate,
		lastUpdate: time.Now(),
		now:        time.Now,
	}
}

func (rl *Limiter) refill() {
	now := rl.now()
	rl.tokens += now.Sub(rl.lastUpdate).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastUpdate = now
}

// Delay reports how long the caller must wait before sending n bytes.
// A zero result means the tokens were consumed and the bytes may go now;
// otherwise nothing is consumed and the caller retries after the delay.
// Requests larger than the burst are allowed once the bucket is full.
func (rl *Limiter) Delay(n int) time.Duration {
	if rl == nil || n <= 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	need := float64(n)
	if need > rl.burst {
		need = rl.burst
	}
	if rl.tokens >= need {
		rl.tokens -= float64(n)
		return 0
	}

	wait := time.Duration((need - rl.tokens) / rl.rate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// wait blocks until n bytes may be sent.
func (rl *Limiter) wait(n int) {
	for {
		d := rl.Delay(n)
		if d == 0 {
			return
		}
		time.Sleep(d)
	}
}

type reader struct {
	r       io.Reader
	limiter *Limiter
}

// NewReader returns a reader that blocks to keep reads within the
// limiter's rate. A nil limiter returns r unchanged.
func NewReader(r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{r: r, limiter: limiter}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	const maxChunkSize = 8 * 1024
	if len(p) > maxChunkSize {
		p = p[:maxChunkSize]
	}

	n, err := r.r.Read(p)
	if n > 0 {
		r.limiter.wait(n)
	}
	return n, err
}
