package voxapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"voxeliser/internal/services"
	"voxeliser/internal/services/voxapi"
	"voxeliser/internal/testsupport"
)

func TestFetchPendingJobsSkipsProcessed(t *testing.T) {
	api := testsupport.NewFakeAPI(t)
	api.AddMesh("m1", "bunny.obj", testsupport.ObjMesh)
	done := api.AddMesh("m2", "teapot.obj", testsupport.ObjMesh)
	done.Processed = true

	client := voxapi.New(api.URL())
	records, err := client.FetchPendingJobs(context.Background())
	if err != nil {
		t.Fatalf("FetchPendingJobs: %v", err)
	}
	if len(records) != 1 || records[0].Identifier() != "m1" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if records[0].File == nil || records[0].File.URL != "/uploads/bunny.obj" {
		t.Fatalf("unexpected file ref: %+v", records[0].File)
	}
}

func TestFetchPendingJobsKeepsValidRecordsBesideMalformedOnes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": "a", "file": {"name": "bunny.obj", "url": "/u/bunny.obj"}},
			{"id": "b", "file": "oops"},
			{"id": "c", "file": {"name": 7, "url": "/x"}}
		]`))
	}))
	t.Cleanup(srv.Close)

	records, err := voxapi.New(srv.URL).FetchPendingJobs(context.Background())
	if err != nil {
		t.Fatalf("FetchPendingJobs: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Identifier() != "a" || records[0].File == nil || records[0].File.Name != "bunny.obj" {
		t.Fatalf("valid record lost: %+v", records[0])
	}
	for _, rec := range records[1:] {
		if rec.File != nil {
			t.Fatalf("expected malformed file to decode nil for %s, got %+v", rec.Identifier(), rec.File)
		}
	}
}

func TestFetchPendingJobsNonArrayIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": "maintenance"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := voxapi.New(srv.URL).FetchPendingJobs(context.Background())
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestFetchPendingJobsFailuresAreTransient(t *testing.T) {
	api := testsupport.NewFakeAPI(t)
	client := voxapi.New(api.URL())

	api.FailFetch(1)
	if _, err := client.FetchPendingJobs(context.Background()); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error for 503, got %v", err)
	}

	api.SetRawMeshes([]byte(`{"error": "not a list"}`))
	if _, err := client.FetchPendingJobs(context.Background()); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error for bad payload, got %v", err)
	}

	unreachable := voxapi.New("http://127.0.0.1:1")
	if _, err := unreachable.FetchPendingJobs(context.Background()); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error for refused connection, got %v", err)
	}
}

func TestFetchPendingJobsEmptyBatch(t *testing.T) {
	api := testsupport.NewFakeAPI(t)
	records, err := voxapi.New(api.URL()).FetchPendingJobs(context.Background())
	if err != nil {
		t.Fatalf("FetchPendingJobs: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty batch, got %d", len(records))
	}
}

func TestDownloadWritesFile(t *testing.T) {
	api := testsupport.NewFakeAPI(t)
	api.AddMesh("m1", "bunny.obj", testsupport.ObjMesh)
	dest := filepath.Join(t.TempDir(), "downloads", "bunny.obj")

	n, err := voxapi.New(api.URL()).Download(context.Background(), "/uploads/bunny.obj", dest)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != int64(len(testsupport.ObjMesh)) {
		t.Fatalf("unexpected byte count %d", n)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(data) != string(testsupport.ObjMesh) {
		t.Fatal("downloaded content mismatch")
	}
}

func TestDownloadMissingFileIsDownloadError(t *testing.T) {
	api := testsupport.NewFakeAPI(t)
	dest := filepath.Join(t.TempDir(), "ghost.obj")

	_, err := voxapi.New(api.URL()).Download(context.Background(), "/uploads/ghost.obj", dest)
	if !errors.Is(err, services.ErrDownload) {
		t.Fatalf("expected download error, got %v", err)
	}
	var status *voxapi.StatusError
	if !errors.As(err, &status) || status.Code != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("expected no file after failed download")
	}
}

func TestDownloadURL(t *testing.T) {
	client := voxapi.New("https://api.example.test/")
	tests := map[string]string{
		"/uploads/a.obj":             "https://api.example.test/uploads/a.obj",
		"uploads/a.obj":              "https://api.example.test/uploads/a.obj",
		"https://cdn.example.test/a": "https://cdn.example.test/a",
	}
	for ref, want := range tests {
		if got := client.DownloadURL(ref); got != want {
			t.Fatalf("DownloadURL(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestUploadVolumeCreatesAndAttaches(t *testing.T) {
	api := testsupport.NewFakeAPI(t)
	path := filepath.Join(t.TempDir(), "bunny_4x4x4_uint8.raw")
	testsupport.WriteFile(t, path, 64)

	volumeID, err := voxapi.New(api.URL()).UploadVolume(context.Background(), path)
	if err != nil {
		t.Fatalf("UploadVolume: %v", err)
	}
	if volumeID != "vol-1" {
		t.Fatalf("unexpected volume id %q", volumeID)
	}
	uploads := api.Uploads()
	if len(uploads) != 1 {
		t.Fatalf("expected one upload, got %d", len(uploads))
	}
	up := uploads[0]
	if up.RefID != "vol-1" || up.Ref != "volume" || up.Field != "file" {
		t.Fatalf("unexpected upload fields: %+v", up)
	}
	if up.FileName != "bunny_4x4x4_uint8.raw" || up.Size != 64 {
		t.Fatalf("unexpected upload file: %+v", up)
	}
}

func TestUploadVolumeLenientByDefault(t *testing.T) {
	api := testsupport.NewFakeAPI(t)
	api.SetUploadStatus(http.StatusInternalServerError)
	path := filepath.Join(t.TempDir(), "v.raw")
	testsupport.WriteFile(t, path, 8)

	volumeID, err := voxapi.New(api.URL()).UploadVolume(context.Background(), path)
	if err != nil {
		t.Fatalf("expected lenient upload to succeed, got %v", err)
	}
	if volumeID == "" {
		t.Fatal("expected volume id despite upload status")
	}

	_, err = voxapi.New(api.URL(), voxapi.WithStrictUpload(true)).UploadVolume(context.Background(), path)
	if !errors.Is(err, services.ErrUpload) {
		t.Fatalf("expected strict upload failure, got %v", err)
	}
}

func TestUploadVolumeCreateFailure(t *testing.T) {
	api := testsupport.NewFakeAPI(t)
	api.FailCreateVolume(1)
	path := filepath.Join(t.TempDir(), "v.raw")
	testsupport.WriteFile(t, path, 8)

	_, err := voxapi.New(api.URL()).UploadVolume(context.Background(), path)
	if !errors.Is(err, services.ErrUpload) {
		t.Fatalf("expected upload error, got %v", err)
	}
	if len(api.Uploads()) != 0 {
		t.Fatal("expected no attach after failed create")
	}
}

func TestLinkAndMarkProcessed(t *testing.T) {
	api := testsupport.NewFakeAPI(t)
	api.AddMesh("m1", "bunny.obj", testsupport.ObjMesh)
	client := voxapi.New(api.URL())
	ctx := context.Background()

	volumeID, err := client.CreateVolume(ctx)
	if err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	if err := client.LinkVolume(ctx, "m1", volumeID); err != nil {
		t.Fatalf("LinkVolume: %v", err)
	}
	if err := client.MarkProcessed(ctx, "m1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	mesh, _ := api.Mesh("m1")
	if !mesh.Processed || mesh.VolumeID != volumeID {
		t.Fatalf("unexpected mesh state: %+v", mesh)
	}
	if api.VolumeMesh(volumeID) != "m1" {
		t.Fatalf("expected volume linked to m1, got %q", api.VolumeMesh(volumeID))
	}
}

func TestLinkNonSuccessIsLinkError(t *testing.T) {
	api := testsupport.NewFakeAPI(t)
	api.AddMesh("m1", "bunny.obj", testsupport.ObjMesh)
	client := voxapi.New(api.URL())

	api.FailLink(1)
	if err := client.LinkVolume(context.Background(), "m1", "vol-x"); !errors.Is(err, services.ErrLink) {
		t.Fatalf("expected link error, got %v", err)
	}
	if err := client.MarkProcessed(context.Background(), "missing"); !errors.Is(err, services.ErrLink) {
		t.Fatalf("expected link error for unknown mesh, got %v", err)
	}
}
