package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Mesh is a mesh record served by FakeAPI.
type Mesh struct {
	ID        string
	FileName  string
	FileURL   string
	Content   []byte
	Processed bool
	VolumeID  string
}

// Upload records one attach-file request.
type Upload struct {
	RefID    string
	Ref      string
	Field    string
	FileName string
	Size     int
}

// FakeAPI is an in-memory stand-in for the remote mesh/volume API.
type FakeAPI struct {
	Server *httptest.Server

	mu           sync.Mutex
	meshes       []*Mesh
	volumes      map[string]string // volume id -> mesh id
	uploads      []Upload
	nextVolume   int
	failFetch    int
	failCreate   int
	failUpload   int
	failLink     int
	failMark     int
	uploadStatus int
	rawMeshes    []byte
}

// NewFakeAPI starts a FakeAPI server that is closed when the test ends.
func NewFakeAPI(t testing.TB) *FakeAPI {
	t.Helper()
	api := &FakeAPI{volumes: map[string]string{}}

	r := chi.NewRouter()
	r.Get("/meshes", api.listMeshes)
	r.Put("/meshes/{id}", api.updateMesh)
	r.Post("/volumes", api.createVolume)
	r.Put("/volumes/{id}", api.updateVolume)
	r.Post("/upload", api.upload)
	r.Get("/uploads/{name}", api.serveFile)

	api.Server = httptest.NewServer(r)
	t.Cleanup(api.Server.Close)
	return api
}

// URL returns the server base URL.
func (a *FakeAPI) URL() string { return a.Server.URL }

// AddMesh registers a mesh whose file is served at /uploads/<name>.
func (a *FakeAPI) AddMesh(id, name string, content []byte) *Mesh {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := &Mesh{ID: id, FileName: name, FileURL: "/uploads/" + name, Content: content}
	a.meshes = append(a.meshes, m)
	return m
}

// SetRawMeshes makes GET /meshes return body verbatim.
func (a *FakeAPI) SetRawMeshes(body []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rawMeshes = body
}

// FailFetch makes the next n mesh listings return 503.
func (a *FakeAPI) FailFetch(n int) { a.set(&a.failFetch, n) }

// FailCreateVolume makes the next n volume creations return 500.
func (a *FakeAPI) FailCreateVolume(n int) { a.set(&a.failCreate, n) }

// FailUpload makes the next n uploads fail with a dropped connection.
func (a *FakeAPI) FailUpload(n int) { a.set(&a.failUpload, n) }

// FailLink makes the next n PUT /volumes/{id} calls return 500.
func (a *FakeAPI) FailLink(n int) { a.set(&a.failLink, n) }

// FailMark makes the next n processed=true updates return 500.
func (a *FakeAPI) FailMark(n int) { a.set(&a.failMark, n) }

// SetUploadStatus overrides the status code of successful uploads.
func (a *FakeAPI) SetUploadStatus(code int) { a.set(&a.uploadStatus, code) }

func (a *FakeAPI) set(field *int, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	*field = n
}

// Mesh returns a snapshot of the mesh with id.
func (a *FakeAPI) Mesh(id string) (Mesh, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.meshes {
		if m.ID == id {
			return *m, true
		}
	}
	return Mesh{}, false
}

// Uploads returns the attach-file requests received so far.
func (a *FakeAPI) Uploads() []Upload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Upload(nil), a.uploads...)
}

// VolumeMesh returns the mesh linked to a volume.
func (a *FakeAPI) VolumeMesh(volumeID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.volumes[volumeID]
}

func consume(counter *int) bool {
	if *counter > 0 {
		*counter--
		return true
	}
	return false
}

func (a *FakeAPI) listMeshes(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if consume(&a.failFetch) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if a.rawMeshes != nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(a.rawMeshes)
		return
	}
	onlyPending := r.URL.Query().Get("processed") == "false"
	out := make([]map[string]any, 0, len(a.meshes))
	for _, m := range a.meshes {
		if onlyPending && m.Processed {
			continue
		}
		out = append(out, map[string]any{
			"id":        m.ID,
			"processed": m.Processed,
			"file":      map[string]string{"name": m.FileName, "url": m.FileURL},
		})
	}
	writeJSON(w, out)
}

func (a *FakeAPI) updateMesh(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var mesh *Mesh
	for _, m := range a.meshes {
		if m.ID == chi.URLParam(r, "id") {
			mesh = m
		}
	}
	if mesh == nil {
		http.NotFound(w, r)
		return
	}
	if v := r.PostForm.Get("processed"); v != "" {
		if consume(&a.failMark) {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		mesh.Processed = v == "true"
	}
	if v := r.PostForm.Get("volume"); v != "" {
		mesh.VolumeID = v
	}
	writeJSON(w, map[string]string{"id": mesh.ID})
}

func (a *FakeAPI) createVolume(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if consume(&a.failCreate) {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	a.nextVolume++
	id := fmt.Sprintf("vol-%d", a.nextVolume)
	a.volumes[id] = ""
	writeJSON(w, map[string]string{"id": id})
}

func (a *FakeAPI) updateVolume(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if consume(&a.failLink) {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := a.volumes[id]; !ok {
		http.NotFound(w, r)
		return
	}
	a.volumes[id] = r.PostForm.Get("mesh")
	writeJSON(w, map[string]string{"id": id})
}

func (a *FakeAPI) upload(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	fail := consume(&a.failUpload)
	status := a.uploadStatus
	a.mu.Unlock()
	if fail {
		hj, ok := w.(http.Hijacker)
		if ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("files")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.mu.Lock()
	a.uploads = append(a.uploads, Upload{
		RefID:    r.FormValue("refId"),
		Ref:      r.FormValue("ref"),
		Field:    r.FormValue("field"),
		FileName: header.Filename,
		Size:     len(data),
	})
	a.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, []map[string]any{{"name": header.Filename, "size": len(data)}})
}

func (a *FakeAPI) serveFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.meshes {
		if m.FileName == name {
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(m.Content)
			return
		}
	}
	http.NotFound(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
