package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	ConnectedClients = "ConnectedClients"
	ActiveRooms      = "ActiveRooms"
	MessagesRelayed  = "MessagesRelayed"
	Joins            = "Joins"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	stop       chan struct{}
	stopOnce   sync.Once
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a new stats updater instance and serves its
// counters on GET /debug/vars.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *metricsUpdateReq, 512),
		stop:       make(chan struct{}),
		// not published globally so several updaters can coexist in tests
		vars: new(expvar.Map),
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

	for _, name := range []string{ConnectedClients, ActiveRooms, MessagesRelayed, Joins} {
		su.RegisterMetric(name)
	}
}

func (su *StatsUpdater) updateMetrics() {
	for {
		select {
		case req := <-su.updateChan:
			if metric, ok := su.vars.Get(req.name).(*expvar.Int); ok {
				metric.Add(int64(req.value))
			}
		case <-su.stop:
			return
		}
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.send(&metricsUpdateReq{name: name, value: 1})
}

func (su *StatsUpdater) Decr(name string) {
	su.send(&metricsUpdateReq{name: name, value: -1})
}

// send drops the update rather than block a room when the queue is full.
func (su *StatsUpdater) send(req *metricsUpdateReq) {
	select {
	case su.updateChan <- req:
	default:
	}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

// Value returns the current value of an integer metric.
func (su *StatsUpdater) Value(name string) int64 {
	if v, ok := su.vars.Get(name).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() { close(su.stop) })
}
