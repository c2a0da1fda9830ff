package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"
)

// handlers wires Store methods to net/http 1.22 ServeMux patterns: one
// typed request struct per resource, errors.Join validation surfaced as
// 400, not-found as 404, store conflicts as 409.
type handlers struct {
	store *Store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	http.Error(w, err.Error(), status)
}

// --- Tenants ---

func (h *handlers) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.ListTenants(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (h *handlers) getTenant(w http.ResponseWriter, r *http.Request) {
	t, ok, err := h.store.GetTenant(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, errors.New("tenant not found"))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handlers) addTenant(w http.ResponseWriter, r *http.Request) {
	var t Tenant
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := h.store.AddTenant(r.Context(), t); err != nil {
		if isValidationErr(err) {
			writeErr(w, http.StatusBadRequest, err)
		} else {
			writeErr(w, http.StatusConflict, err)
		}
		return
	}
	got, _, _ := h.store.GetTenant(r.Context(), t.ID)
	writeJSON(w, http.StatusCreated, got)
}

func (h *handlers) updateTenant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var t Tenant
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	t.ID = id
	if err := h.store.UpdateTenant(r.Context(), t); err != nil {
		if isValidationErr(err) {
			writeErr(w, http.StatusBadRequest, err)
		} else {
			writeErr(w, http.StatusNotFound, err)
		}
		return
	}
	got, _, _ := h.store.GetTenant(r.Context(), id)
	writeJSON(w, http.StatusOK, got)
}

func (h *handlers) removeTenant(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RemoveTenant(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Sources ---

func (h *handlers) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListSources(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (h *handlers) getSource(w http.ResponseWriter, r *http.Request) {
	src, ok, err := h.store.GetSource(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, errors.New("source not found"))
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (h *handlers) addSource(w http.ResponseWriter, r *http.Request) {
	var src Source
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := h.store.AddSource(r.Context(), src); err != nil {
		if isValidationErr(err) {
			writeErr(w, http.StatusBadRequest, err)
		} else {
			writeErr(w, http.StatusConflict, err)
		}
		return
	}
	got, _, _ := h.store.GetSource(r.Context(), src.ID)
	writeJSON(w, http.StatusCreated, got)
}

func (h *handlers) updateSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var src Source
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	src.ID = id
	if err := h.store.UpdateSource(r.Context(), src); err != nil {
		if isValidationErr(err) {
			writeErr(w, http.StatusBadRequest, err)
		} else {
			writeErr(w, http.StatusNotFound, err)
		}
		return
	}
	got, _, _ := h.store.GetSource(r.Context(), id)
	writeJSON(w, http.StatusOK, got)
}

func (h *handlers) removeSource(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RemoveSource(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Sinks ---

func (h *handlers) listSinks(w http.ResponseWriter, r *http.Request) {
	sinks, err := h.store.ListSinks(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sinks)
}

func (h *handlers) getSink(w http.ResponseWriter, r *http.Request) {
	sink, ok, err := h.store.GetSink(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, errors.New("sink not found"))
		return
	}
	writeJSON(w, http.StatusOK, sink)
}

func (h *handlers) addSink(w http.ResponseWriter, r *http.Request) {
	var sink Sink
	if err := json.NewDecoder(r.Body).Decode(&sink); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := h.store.AddSink(r.Context(), sink); err != nil {
		if isValidationErr(err) {
			writeErr(w, http.StatusBadRequest, err)
		} else {
			writeErr(w, http.StatusConflict, err)
		}
		return
	}
	got, _, _ := h.store.GetSink(r.Context(), sink.ID)
	writeJSON(w, http.StatusCreated, got)
}

func (h *handlers) updateSink(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var sink Sink
	if err := json.NewDecoder(r.Body).Decode(&sink); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	sink.ID = id
	if err := h.store.UpdateSink(r.Context(), sink); err != nil {
		if isValidationErr(err) {
			writeErr(w, http.StatusBadRequest, err)
		} else {
			writeErr(w, http.StatusNotFound, err)
		}
		return
	}
	got, _, _ := h.store.GetSink(r.Context(), id)
	writeJSON(w, http.StatusOK, got)
}

func (h *handlers) removeSink(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RemoveSink(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Pipelines ---

func (h *handlers) listPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.store.ListPipelines(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pipelines)
}

// getPipeline returns the pipeline keyed by its own id field — the fix for
// the reference source's read_pipeline bug, which returned sink_id where
// the pipeline's own id belonged.
func (h *handlers) getPipeline(w http.ResponseWriter, r *http.Request) {
	p, ok, err := h.store.GetPipeline(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, errors.New("pipeline not found"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) addPipeline(w http.ResponseWriter, r *http.Request) {
	var p Pipeline
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := h.store.AddPipeline(r.Context(), p); err != nil {
		if isValidationErr(err) {
			writeErr(w, http.StatusBadRequest, err)
		} else {
			writeErr(w, http.StatusConflict, err)
		}
		return
	}
	got, _, _ := h.store.GetPipeline(r.Context(), p.ID)
	writeJSON(w, http.StatusCreated, got)
}

func (h *handlers) updatePipeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var p Pipeline
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	p.ID = id
	if err := h.store.UpdatePipeline(r.Context(), p); err != nil {
		if isValidationErr(err) {
			writeErr(w, http.StatusBadRequest, err)
		} else {
			writeErr(w, http.StatusNotFound, err)
		}
		return
	}
	got, _, _ := h.store.GetPipeline(r.Context(), id)
	writeJSON(w, http.StatusOK, got)
}

func (h *handlers) removePipeline(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RemovePipeline(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// isValidationErr distinguishes a required-field error (errors.Join output
// from a validate* function, always a plain error with no Unwrap chain to a
// database driver) from a store/driver failure. The validate* functions
// never wrap a pgx error, so the check is just "did validation run first".
func isValidationErr(err error) bool {
	var joined interface{ Unwrap() []error }
	return errors.As(err, &joined)
}
