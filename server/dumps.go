package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/json"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/paths"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/utils"
)

const (
	max_request_size = 1024 * 1024
	max_upload_size  = 32 * 1024 * 1024
)

type principalKey struct{}

func requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := r.Header.Get(PrincipalHeader)
		if principal == "" {
			http.Error(w, "Principal required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getPrincipal(r *http.Request) string {
	principal, _ := r.Context().Value(principalKey{}).(string)
	return principal
}

func writeJSON(w http.ResponseWriter, status int, item interface{}) {
	serialized, err := json.Marshal(item)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(serialized)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, utils.NotFoundError):
		status = http.StatusNotFound
	case errors.Is(err, utils.InvalidArgError):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrBusy),
		errors.Is(err, utils.InvalidTransitionErr):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

// Dumps the principal may not see are reported as missing.
func checkAccess(ctx context.Context,
	db datastore.DataStore, principal, dump_index string) error {
	principals, err := db.ListPrincipalsWithAccess(ctx, dump_index)
	if err != nil {
		return err
	}

	for _, p := range principals {
		if p == principal {
			return nil
		}
	}
	return fmt.Errorf("%w: dump %v", utils.NotFoundError, dump_index)
}

// Opens the datastore and checks the principal can see the dump in
// the route. Writes the error response on failure.
func accessibleDump(config_obj *config_proto.Config,
	w http.ResponseWriter, r *http.Request) (datastore.DataStore, string, bool) {
	db, err := datastore.GetDB(config_obj)
	if err != nil {
		writeError(w, err)
		return nil, "", false
	}

	dump_index := mux.Vars(r)["index"]
	err = checkAccess(r.Context(), db, getPrincipal(r), dump_index)
	if err != nil {
		writeError(w, err)
		return nil, "", false
	}
	return db, dump_index, true
}

func listDumps(config_obj *config_proto.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		db, err := datastore.GetDB(config_obj)
		if err != nil {
			writeError(w, err)
			return
		}

		dumps, err := db.ListDumps(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		result := []*models.Dump{}
		for _, dump := range dumps {
			if checkAccess(r.Context(), db, getPrincipal(r), dump.Index) == nil {
				result = append(result, dump)
			}
		}
		writeJSON(w, http.StatusOK, result)
	})
}

type CreateDumpRequest struct {
	Name string `json:"name"`
	OS   string `json:"operating_system"`
	Path string `json:"path"`
}

func createDump(config_obj *config_proto.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, max_request_size))
		if err != nil {
			writeError(w, err)
			return
		}

		request := &CreateDumpRequest{}
		err = json.Unmarshal(body, request)
		if err != nil || request.Name == "" || request.Path == "" {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		orchestrator, err := services.GetOrchestrator()
		if err != nil {
			writeError(w, err)
			return
		}

		dump, err := orchestrator.CreateDump(r.Context(),
			getPrincipal(r), request.Name, request.OS, request.Path)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, dump)
	})
}

func getDump(config_obj *config_proto.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		db, dump_index, ok := accessibleDump(config_obj, w, r)
		if !ok {
			return
		}

		dump, err := db.GetDump(r.Context(), dump_index)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dump)
	})
}

func deleteDump(config_obj *config_proto.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, dump_index, ok := accessibleDump(config_obj, w, r)
		if !ok {
			return
		}

		orchestrator, err := services.GetOrchestrator()
		if err != nil {
			writeError(w, err)
			return
		}

		err = orchestrator.DeleteDump(r.Context(), dump_index)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
}

func listResults(config_obj *config_proto.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		db, dump_index, ok := accessibleDump(config_obj, w, r)
		if !ok {
			return
		}

		results, err := db.ListResults(r.Context(), dump_index)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, results)
	})
}

func pluginRows(config_obj *config_proto.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, dump_index, ok := accessibleDump(config_obj, w, r)
		if !ok {
			return
		}

		limit := 0
		limit_str := r.URL.Query().Get("limit")
		if limit_str != "" {
			value, err := strconv.Atoi(limit_str)
			if err != nil || value < 0 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = value
		}

		indexer, err := services.GetIndexer()
		if err != nil {
			writeError(w, err)
			return
		}

		rows, err := indexer.Search(r.Context(),
			paths.IndexName(dump_index, mux.Vars(r)["plugin"]), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	})
}

func extractedFiles(config_obj *config_proto.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		db, dump_index, ok := accessibleDump(config_obj, w, r)
		if !ok {
			return
		}

		files, err := db.ListExtractedFiles(r.Context(),
			dump_index, mux.Vars(r)["plugin"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, files)
	})
}

// Parameters arrive as a multipart form. Uploaded files are written
// under the staging directory and handed to the orchestrator which
// moves them next to the plugin's captured files.
func resubmit(config_obj *config_proto.Config) http.Handler {
	logger := logging.GetLogger(config_obj, &logging.FrontendComponent)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, dump_index, ok := accessibleDump(config_obj, w, r)
		if !ok {
			return
		}

		err := r.ParseMultipartForm(max_upload_size)
		if err != nil {
			http.Error(w, "Invalid form", http.StatusBadRequest)
			return
		}

		request := &services.ResubmitRequest{
			DumpIndex: dump_index,
			Plugin:    mux.Vars(r)["plugin"],
			Values:    make(map[string]string),
			Files:     make(map[string]string),
		}

		for name, values := range r.MultipartForm.Value {
			if len(values) > 0 {
				request.Values[name] = values[0]
			}
		}

		staging := paths.StagingDirectory(config_obj)
		err = os.MkdirAll(staging, 0700)
		if err != nil {
			writeError(w, err)
			return
		}

		upload_dir, err := os.MkdirTemp(staging, "upload_*")
		if err != nil {
			writeError(w, err)
			return
		}
		defer func() {
			err := os.RemoveAll(upload_dir)
			if err != nil {
				logger.Warn("Unable to remove %v: %v", upload_dir, err)
			}
		}()

		for name, headers := range r.MultipartForm.File {
			if len(headers) == 0 {
				continue
			}

			filename, err := saveUpload(r.Context(), upload_dir, headers[0].Filename,
				func() (io.ReadCloser, error) { return headers[0].Open() })
			if err != nil {
				writeError(w, err)
				return
			}
			request.Files[name] = filename
		}

		orchestrator, err := services.GetOrchestrator()
		if err != nil {
			writeError(w, err)
			return
		}

		err = orchestrator.Resubmit(r.Context(), request)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
	})
}

func saveUpload(ctx context.Context, directory, name string,
	open func() (io.ReadCloser, error)) (string, error) {
	in, err := open()
	if err != nil {
		return "", err
	}
	defer in.Close()

	filename := filepath.Join(directory, utils.SanitizeFilename(name))
	out, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", err
	}
	defer out.Close()

	_, err = utils.Copy(ctx, out, in)
	return filename, err
}

func listPlugins(config_obj *config_proto.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		db, err := datastore.GetDB(config_obj)
		if err != nil {
			writeError(w, err)
			return
		}

		records, err := db.ListPlugins(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	})
}
