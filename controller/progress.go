package controller

import (
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultProgressInterval is the least time between two progress lines.
const DefaultProgressInterval = 10 * time.Second

const slowWarning = " (this can take a while for large datasets)"

// progress logs "<pct>% done" lines no more often than its interval.
type progress struct {
	mu       sync.Mutex
	total    int
	interval time.Duration
	done     int
	last     time.Time
	warned   bool
	now      func() time.Time
	log      *logrus.Entry
}

func newProgress(total int, interval time.Duration, now func() time.Time, log *logrus.Entry) *progress {
	return &progress{total: total, interval: interval, last: now(), now: now, log: log}
}

// tick reports that one more sample is done. The percentage is that of the samples finished
// before it. The first line also warns that large datasets are slow.
func (p *progress) tick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.done
	p.done++

	current := p.now()
	if !p.last.Add(p.interval).Before(current) {
		return
	}
	message := progressMessage(i, p.total)
	if !p.warned {
		message += slowWarning
		p.warned = true
	}
	p.log.Info(message)
	p.last = current
}

func progressMessage(i, total int) string {
	pct := 0
	if total > 0 {
		pct = int(100 / float64(total) * float64(i))
	}
	return strconv.Itoa(pct) + "% done"
}
