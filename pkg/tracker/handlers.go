package tracker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ryandielhenn/meshtrack/pkg/registry"
)

// HandleUpdate terminates POST /. Every request is both update and query: a
// body carrying a well-formed "services" object is merged first, and the
// response is always the full registry snapshot.
func (t *Tracker) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		// Transport error mid-body: abort this request. Nothing was merged.
		t.logger.Warn("aborting request, body read failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		return
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		if !json.Valid(body) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		// Valid JSON whose top level is not an object: a query with nothing
		// to merge.
		top = nil
	}

	if raw, ok := top["services"]; ok {
		var reports map[string]registry.Descriptor
		// A "services" value of the wrong shape is not an error; the merge
		// is skipped and the request degrades to a query.
		if err := json.Unmarshal(raw, &reports); err == nil && len(reports) > 0 {
			t.Update(reports, r.RemoteAddr)
			t.logger.Debug("report merged",
				zap.String("remote", r.RemoteAddr),
				zap.Int("services", len(reports)))
		}
	}

	data, err := json.Marshal(t.Snapshot())
	if err != nil {
		// No recovery path exists for this; JSON-decoded input cannot
		// produce it.
		t.logger.Error("snapshot marshal failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// NotFound writes the 404 contract shared by unknown paths and non-POST
// methods on /.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}
