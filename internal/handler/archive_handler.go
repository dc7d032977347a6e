package handler

import (
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// GET /v1/archives/{name}
// ============================================================

func archiveHandler(archives ArchiveStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if archives == nil {
			writeError(w, http.StatusNotFound, "archives are not served by this instance")
			return
		}

		name := chi.URLParam(r, "name")
		f, err := archives.Open(name)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}
