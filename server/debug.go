package server

import (
	"net/http"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/utils/tempfile"
)

type statsReporter interface {
	Stats() *ordereddict.Dict
}

type listenerReporter interface {
	Listeners() []*ordereddict.Dict
}

func schedulerStats() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheduler, err := services.GetScheduler()
		if err != nil {
			writeError(w, err)
			return
		}

		reporter, ok := scheduler.(statsReporter)
		if !ok {
			writeJSON(w, http.StatusOK, ordereddict.NewDict())
			return
		}
		writeJSON(w, http.StatusOK, reporter.Stats())
	})
}

func notificationListeners() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notifier, err := services.GetNotifier()
		if err != nil {
			writeError(w, err)
			return
		}

		reporter, ok := notifier.(listenerReporter)
		if !ok {
			writeJSON(w, http.StatusOK, []*ordereddict.Dict{})
			return
		}
		writeJSON(w, http.StatusOK, reporter.Listeners())
	})
}

func stagingFiles() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tempfile.Snapshot())
	})
}
