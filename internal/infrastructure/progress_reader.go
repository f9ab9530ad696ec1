package infrastructure

import "io"

// ProgressReader wraps a reader and reports cumulative bytes every interval bytes
type ProgressReader struct {
	reader     io.Reader
	total      int64
	interval   int64
	onProgress func(written, total int64)

	read       int64
	sinceFlush int64
}

// NewProgressReader creates a reader reporting to cb. total may be -1 when unknown.
func NewProgressReader(r io.Reader, total, interval int64, cb func(written, total int64)) *ProgressReader {
	if interval <= 0 {
		interval = 1
	}
	return &ProgressReader{
		reader:     r,
		total:      total,
		interval:   interval,
		onProgress: cb,
	}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.reader.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.sinceFlush += int64(n)
		if p.sinceFlush >= p.interval || (p.total > 0 && p.read == p.total) {
			p.flush()
		}
	}
	if err == io.EOF && p.sinceFlush > 0 {
		p.flush()
	}
	return n, err
}

// Written returns the bytes read so far
func (p *ProgressReader) Written() int64 {
	return p.read
}

func (p *ProgressReader) flush() {
	p.sinceFlush = 0
	if p.onProgress != nil {
		p.onProgress(p.read, p.total)
	}
}
