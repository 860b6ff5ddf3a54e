package session

import (
	"io"
	"sync"
)

// ProgressFunc receives completed fractions in [0, 1].
type ProgressFunc func(fraction float64)

// progressReader reports the share of total read so far. Reports never go backwards and
// 1.0 is only reported by finish.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report ProgressFunc

	mu   sync.Mutex
	last float64
}

func newProgressReader(r io.Reader, total int64, report ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, report: report}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.read += int64(n)
		p.emit(min(float64(p.read)/float64(p.total), 0.999))
	}
	return n, err
}

func (p *progressReader) finish() { p.emit(1) }

func (p *progressReader) emit(f float64) {
	if p.report == nil {
		return
	}
	p.mu.Lock()
	if f <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = f
	p.mu.Unlock()
	p.report(f)
}
