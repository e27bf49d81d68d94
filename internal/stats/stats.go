package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	Connections    = "Connections"
	Rooms          = "Rooms"
	CallsStarted   = "CallsStarted"
	CallsEnded     = "CallsEnded"
	Supersessions  = "Supersessions"
	SignalsRelayed = "SignalsRelayed"
	ChatMessages   = "ChatMessages"
	Notes          = "Notes"
)

// Metrics lists every metric the coordinator reports.
var Metrics = []string{
	Connections,
	Rooms,
	CallsStarted,
	CallsEnded,
	Supersessions,
	SignalsRelayed,
	ChatMessages,
	Notes,
}

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	done       chan struct{}
	mu         sync.RWMutex
	stopped    bool
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(su.Snapshot())
}

// NewStatsUpdater creates a new stats updater instance and serves its
// snapshot on GET /debug/vars.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *metricsUpdateReq, 512),
		done:       make(chan struct{}),
		// not published globally so several updaters can coexist in tests
		vars: new(expvar.Map).Init(),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

// Snapshot returns the current value of every metric.
func (su *StatsUpdater) Snapshot() map[string]any {
	data := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		data[kv.Key] = value
	})

	return data
}

func (su *StatsUpdater) updateMetrics() {
	defer close(su.done)
	for req := range su.updateChan {
		metric, ok := su.vars.Get(req.name).(*expvar.Int)
		if !ok {
			continue
		}

		metric.Add(int64(req.value))
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.update(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.update(name, -1)
}

// update drops changes that arrive after Stop; connections still closing
// during shutdown may report late.
func (su *StatsUpdater) update(name string, value int) {
	su.mu.RLock()
	defer su.mu.RUnlock()

	if su.stopped {
		return
	}
	su.updateChan <- &metricsUpdateReq{name: name, value: value}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop flushes pending updates.
func (su *StatsUpdater) Stop() {
	su.mu.Lock()
	if su.stopped {
		su.mu.Unlock()
		return
	}
	su.stopped = true
	close(su.updateChan)
	su.mu.Unlock()

	<-su.done
}
