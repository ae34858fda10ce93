package artifact

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultProgressStep is the number of bytes between two progress reports.
const DefaultProgressStep = 10 << 20

// ProgressFunc receives the bytes sent so far, the expected total (0 when
// unknown) and the time since the transfer started.
type ProgressFunc func(sent, total int64, elapsed time.Duration)

// Progress counts the bytes of one artifact stream and reports every Step bytes.
type Progress struct {
	r      io.Reader
	total  int64
	step   int64
	next   int64
	report ProgressFunc
	start  time.Time
	sent   atomic.Int64
}

// NewProgress wraps r, an artifact stream of total bytes.
func NewProgress(r io.Reader, total int64, report ProgressFunc) *Progress {
	return &Progress{
		r:      r,
		total:  total,
		step:   DefaultProgressStep,
		next:   DefaultProgressStep,
		report: report,
		start:  time.Now(),
	}
}

// Read implements io.Reader.
func (p *Progress) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n <= 0 {
		return n, err
	}
	sent := p.sent.Add(int64(n))
	if p.report != nil && sent >= p.next {
		p.report(sent, p.total, time.Since(p.start))
		for p.next <= sent {
			p.next += p.step
		}
	}
	return n, err
}

// Sent returns the number of bytes read so far. Safe for concurrent use.
func (p *Progress) Sent() int64 {
	return p.sent.Load()
}

// Percent is sent as a share of total, or -1 when total is unknown.
func Percent(sent, total int64) float64 {
	if total <= 0 {
		return -1
	}
	return float64(sent) * 100 / float64(total)
}

// FormatBytes renders a size with binary units, e.g. "1.5 KiB".
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
