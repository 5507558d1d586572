package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/quatton/mam/pkg/edgesign"
	"github.com/quatton/mam/pkg/merr"
	"github.com/quatton/mam/pkg/mlog"
	"github.com/quatton/mam/pkg/objstore"
)

// EdgeProxy serves signed preview URLs from the previews bucket. Manifests
// are rewritten so every segment line carries a signature with the same
// expiry as the manifest request.
type EdgeProxy struct {
	signer *edgesign.Signer
	store  objstore.Store
	bucket string
	log    *mlog.Logger
}

func NewEdgeProxy(signer *edgesign.Signer, store objstore.Store, bucket string, log *mlog.Logger) *EdgeProxy {
	if log == nil {
		log = mlog.Discard()
	}
	return &EdgeProxy{signer: signer, store: store, bucket: bucket, log: log.With("component", "edge")}
}

func (e *EdgeProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !edgesign.ValidObjectKey(key) {
		writeJSONError(w, http.StatusBadRequest, "bad path")
		return
	}
	if e.signer == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "edge signing is not configured")
		return
	}
	exp, _ := strconv.ParseInt(r.URL.Query().Get("exp"), 10, 64)
	if err := e.signer.Verify(edgesign.ObjectPath(key), exp, r.URL.Query().Get("sig")); err != nil {
		e.log.Debug("rejected edge request", "key", key, "error", err)
		writeJSONError(w, http.StatusForbidden, "forbidden")
		return
	}

	rc, obj, err := e.store.Get(r.Context(), e.bucket, key)
	if err != nil {
		if merr.IsCode(err, merr.CodeNotFound) {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		e.log.Error("edge fetch failed", "key", key, "error", err)
		writeJSONError(w, http.StatusBadGateway, "upstream error")
		return
	}
	defer rc.Close()

	w.Header().Set("Cache-Control", "private, max-age=60")
	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}

	if path.Base(key) == objstore.ManifestName {
		body, err := e.rewriteManifest(rc, path.Dir(key), exp)
		if err != nil {
			e.log.Error("manifest rewrite failed", "key", key, "error", err)
			writeJSONError(w, http.StatusBadGateway, "upstream error")
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
		return
	}

	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil && !errors.Is(err, r.Context().Err()) {
		e.log.Warn("edge copy interrupted", "key", key, "error", err)
	}
}

// rewriteManifest appends exp and sig to every URI line that names an
// object under dir.
func (e *EdgeProxy) rewriteManifest(r io.Reader, dir string, exp int64) ([]byte, error) {
	var out bytes.Buffer
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") && !strings.Contains(trimmed, "://") {
			key := path.Join(dir, trimmed)
			if edgesign.ValidObjectKey(key) {
				line = trimmed + "?" + edgesign.Query(exp, e.signer.Signature(edgesign.ObjectPath(key), exp))
			}
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes(), sc.Err()
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
