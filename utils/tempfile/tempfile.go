// Staging files written by plugins are tracked from creation until
// they are committed or discarded so leaks show up on the debug
// endpoint and in the live staging gauge.
package tempfile

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const max_finished = 100

var (
	liveStagingFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memtriage_live_staging_files",
		Help: "Number of staging files not yet committed or discarded.",
	})

	g_tracker = newTracker()
)

type record struct {
	name     string
	created  time.Time
	finished time.Time
	err      error
}

type tracker struct {
	mu   sync.Mutex
	live map[string]*record

	// The most recently finished files, oldest first.
	finished []*record
}

func newTracker() *tracker {
	return &tracker{
		live: make(map[string]*record),
	}
}

func (self *tracker) add(filename string) {
	self.mu.Lock()
	defer self.mu.Unlock()

	_, pres := self.live[filename]
	if !pres {
		liveStagingFiles.Inc()
	}
	self.live[filename] = &record{name: filename, created: time.Now()}
}

func (self *tracker) remove(filename string, err error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	r, pres := self.live[filename]
	if pres {
		delete(self.live, filename)
		liveStagingFiles.Dec()
	} else {
		r = &record{name: filename}
	}

	r.finished = time.Now()
	r.err = err

	self.finished = append(self.finished, r)
	if len(self.finished) > max_finished {
		self.finished = self.finished[len(self.finished)-max_finished:]
	}
}

func (self *tracker) liveFiles() []string {
	self.mu.Lock()
	defer self.mu.Unlock()

	return sortedKeys(self.live)
}

func (self *tracker) snapshot() []*ordereddict.Dict {
	self.mu.Lock()
	defer self.mu.Unlock()

	rows := []*ordereddict.Dict{}
	add := func(r *record, state string) {
		err_str := ""
		if r.err != nil {
			err_str = r.err.Error()
		}
		rows = append(rows, ordereddict.NewDict().
			Set("Name", r.name).
			Set("State", state).
			Set("Created", r.created).
			Set("Finished", r.finished).
			Set("Error", err_str))
	}

	for _, name := range sortedKeys(self.live) {
		add(self.live[name], "live")
	}
	for _, r := range self.finished {
		add(r, "finished")
	}
	return rows
}

func sortedKeys(in map[string]*record) []string {
	result := make([]string, 0, len(in))
	for k := range in {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Creates a new tracked staging file.
func CreateTemp(dir, pattern string) (*os.File, error) {
	fd, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	g_tracker.add(fd.Name())
	return fd, nil
}

// The file was committed or discarded. err records why a discard
// happened.
func RemoveTmpFile(filename string, err error) {
	g_tracker.remove(filename, err)
}

func LiveFiles() []string {
	return g_tracker.liveFiles()
}

// Live files first, then the most recently finished ones.
func Snapshot() []*ordereddict.Dict {
	return g_tracker.snapshot()
}
