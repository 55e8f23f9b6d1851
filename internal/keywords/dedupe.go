package keywords

import (
	"container/list"
	"strconv"
	"strings"
	"sync"

	"stationear/internal/domain"
)

const defaultDedupeCapacity = 512

// Deduper suppresses keyword alerts that arrive more than once, for example
// from both the live stream and status polling.
type Deduper struct {
	capacity int

	mu    sync.Mutex
	order *list.List
	keys  map[string]*list.Element
}

func NewDeduper(capacity int) *Deduper {
	if capacity <= 0 {
		capacity = defaultDedupeCapacity
	}
	return &Deduper{
		capacity: capacity,
		order:    list.New(),
		keys:     make(map[string]*list.Element, capacity),
	}
}

// Seen records the alert and reports whether an identical alert was already recorded.
func (d *Deduper) Seen(alert domain.KeywordAlert) bool {
	key := alertKey(alert)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.keys[key]; ok {
		return true
	}
	d.keys[key] = d.order.PushBack(key)
	for d.order.Len() > d.capacity {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.keys, oldest.Value.(string))
	}
	return false
}

// Len returns the number of remembered alerts.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

func alertKey(alert domain.KeywordAlert) string {
	broadcast := "-"
	if alert.BroadcastID != nil {
		broadcast = strconv.FormatInt(*alert.BroadcastID, 10)
	}
	return strings.Join([]string{broadcast, alert.Keyword, alert.DetectedAt}, "\x1f")
}
