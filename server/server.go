/*
Velociraptor - Dig Deeper
Copyright (C) 2019-2025 Rapid7 Inc.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
// The frontend exposes the dumps, their results and a live stream of
// plugin events over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/logging"
)

// Requests are made on behalf of the principal named in this header.
// Authentication happens in front of the frontend.
const PrincipalHeader = "X-Memtriage-Principal"

func NewRouter(config_obj *config_proto.Config) *mux.Router {
	router := mux.NewRouter()
	router.Use(logging.GetLoggingHandler(config_obj))
	router.Use(RecordHTTPStats)

	router.Handle("/healthz", healthz()).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(requirePrincipal)

	api.Handle("/dumps", listDumps(config_obj)).Methods("GET")
	api.Handle("/dumps", createDump(config_obj)).Methods("POST")
	api.Handle("/dumps/{index}", getDump(config_obj)).Methods("GET")
	api.Handle("/dumps/{index}", deleteDump(config_obj)).Methods("DELETE")
	api.Handle("/dumps/{index}/results", listResults(config_obj)).Methods("GET")
	api.Handle("/dumps/{index}/plugins/{plugin}/rows",
		pluginRows(config_obj)).Methods("GET")
	api.Handle("/dumps/{index}/plugins/{plugin}/files",
		extractedFiles(config_obj)).Methods("GET")
	api.Handle("/dumps/{index}/plugins/{plugin}/resubmit",
		resubmit(config_obj)).Methods("POST")
	api.Handle("/plugins", listPlugins(config_obj)).Methods("GET")
	api.Handle("/events", streamEvents(config_obj)).Methods("GET")

	debug := router.PathPrefix("/debug").Subrouter()
	debug.Handle("/scheduler", schedulerStats()).Methods("GET")
	debug.Handle("/notifications", notificationListeners()).Methods("GET")
	debug.Handle("/staging", stagingFiles()).Methods("GET")

	return router
}

func healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func StartFrontendServer(
	ctx context.Context,
	wg *sync.WaitGroup,
	config_obj *config_proto.Config) error {

	logger := logging.GetLogger(config_obj, &logging.FrontendComponent)

	IncreaseLimits(config_obj)

	listen_addr := fmt.Sprintf("%s:%d",
		config_obj.Frontend.BindAddress,
		config_obj.Frontend.BindPort)

	server := &http.Server{
		Addr:    listen_addr,
		Handler: NewRouter(config_obj),

		// Websocket connections stay open so there is no write
		// timeout.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		logger.Info("Frontend is ready to handle requests at <green>http://%v/</>",
			listen_addr)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Frontend server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()

		logger.Info("<red>Shutting down</> frontend")
		time_ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		err := server.Shutdown(time_ctx)
		if err != nil {
			logger.Error("Frontend shutdown error: %v", err)
		}
	}()

	return nil
}
