package firmware

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newGzipManifestServer(t *testing.T, m apManifest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gz := gzip.NewWriter(w)
		defer gz.Close()
		if err := json.NewEncoder(gz).Encode(m); err != nil {
			t.Fatalf("encode manifest: %v", err)
		}
	}))
}

func TestArduPilotVersionsFiltersByVehicleAndBoard(t *testing.T) {
	m := apManifest{Releases: []apRelease{
		{MavAutopilot: "ArduPilot", VehicleType: "Copter", BoardID: 1016, ReleaseType: "STABLE", Version: "4.5.1", URL: "http://x/1"},
		{MavAutopilot: "ArduPilot", VehicleType: "Plane", BoardID: 1016, ReleaseType: "STABLE", Version: "4.5.1", URL: "http://x/2"},
		{MavAutopilot: "ArduPilot", VehicleType: "Copter", BoardID: 9, ReleaseType: "STABLE", Version: "4.5.1", URL: "http://x/3"},
		{MavAutopilot: "SomeFork", VehicleType: "Copter", BoardID: 1016, ReleaseType: "STABLE", Version: "9.9.9", URL: "http://x/4"},
	}}
	srv := newGzipManifestServer(t, m)
	defer srv.Close()

	src := NewArduPilotSource(srv.Client(), srv.URL)
	versions, err := src.Versions(context.Background(), VehicleCopter, 1016)
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(versions) != 1 || versions[0].DownloadURL != "http://x/1" {
		t.Fatalf("got %+v, want exactly the Copter/1016 ArduPilot release", versions)
	}
}

func TestArduPilotNoMatchReturnsNoMatchingBoard(t *testing.T) {
	srv := newGzipManifestServer(t, apManifest{})
	defer srv.Close()

	src := NewArduPilotSource(srv.Client(), srv.URL)
	_, err := src.Versions(context.Background(), VehicleCopter, 1016)
	if _, ok := err.(*ErrNoMatchingBoard); !ok {
		t.Fatalf("got %T (%v), want *ErrNoMatchingBoard", err, err)
	}
}

func TestGitHubVersionsFiltersByExtensionAndPrefix(t *testing.T) {
	releases := []ghRelease{
		{TagName: "4.5.0", Assets: []ghAsset{
			{Name: "MATEKF405_4.5.0.hex", BrowserDownloadURL: "http://x/a", Size: 100},
			{Name: "MATEKF405_4.5.0.bin", BrowserDownloadURL: "http://x/b", Size: 100},
			{Name: "OMNIBUSF4_4.5.0.hex", BrowserDownloadURL: "http://x/c", Size: 100},
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(releases)
	}))
	defer srv.Close()

	src, err := NewGitHubSource(srv.Client(), SourceINav)
	if err != nil {
		t.Fatalf("NewGitHubSource: %v", err)
	}
	// Short-circuit fetch() with a pre-seeded cache instead of hitting the
	// real GitHub API.
	src.cached = releases

	versions, err := src.Versions(context.Background(), "MATEKF405")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(versions) != 1 || versions[0].DownloadURL != "http://x/a" {
		t.Fatalf("got %+v, want only the .hex asset matching the prefix", versions)
	}
}

func TestMapBetaflightTargetToINav(t *testing.T) {
	target, ok := MapBetaflightTargetToINav("MATEKF405")
	if !ok || target != "MATEKF405" {
		t.Fatalf("got (%q, %v), want (MATEKF405, true)", target, ok)
	}
	if _, ok := MapBetaflightTargetToINav("NOSUCHTARGET"); ok {
		t.Fatal("expected no mapping for an unknown target")
	}
}

func TestClassifyF3AllowList(t *testing.T) {
	v, ok := ClassifyF3("SPRACINGF3")
	if !ok || v == "" {
		t.Fatalf("got (%q, %v), want an allow-listed legacy version", v, ok)
	}
	if _, ok := ClassifyF3("SPRACINGF7"); ok {
		t.Fatal("F7 board should not be in the F3 allow-list")
	}
}

func TestSearchCaseInsensitive(t *testing.T) {
	boards := []Board{
		{ID: "matekf405:1016", Name: "MatekF405", Category: "Copter"},
		{ID: "omnibusf4:17", Name: "OmnibusF4", Category: "Plane"},
	}
	got := Search(boards, "MATEK")
	if len(got) != 1 || got[0].Name != "MatekF405" {
		t.Fatalf("got %+v, want only MatekF405", got)
	}
}

func TestGroupByMajorVersionMarksLatestStable(t *testing.T) {
	versions := []FirmwareVersion{
		{Version: "4.5.0", ReleaseType: ReleaseStable},
		{Version: "4.5.1", ReleaseType: ReleaseStable},
		{Version: "4.5.2-beta1", ReleaseType: ReleaseBeta},
	}
	groups := GroupByMajorVersion(versions)
	if len(groups) != 1 || groups[0].Group != "4.5.x" {
		t.Fatalf("got %+v, want one 4.5.x group", groups)
	}
	if !groups[0].Versions[1].Latest {
		t.Fatalf("got %+v, want 4.5.1 marked Latest", groups[0].Versions)
	}
}

func TestCacheDownloadContentAddressedWithSidecar(t *testing.T) {
	body := "firmware-bytes-for-test"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cache := NewCache(dir, srv.Client())

	v := FirmwareVersion{Version: "4.5.1", DownloadURL: srv.URL}
	var progressed bool
	path, err := cache.Download(context.Background(), SourceArduPilot, "matek-f405", "4.5.1", v, "", func(done, total int64) {
		progressed = true
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !progressed {
		t.Fatal("expected at least one progress callback")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cached file: %v", err)
	}
	if string(data) != body {
		t.Fatalf("got %q, want %q", data, body)
	}

	meta, err := ReadMeta(path)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.Source != SourceArduPilot || meta.Board != "matek-f405" || meta.Version != "4.5.1" {
		t.Fatalf("got %+v, want matching source/board/version", meta)
	}
	if filepath.Base(path) != meta.SHA256+".bin" {
		t.Fatalf("path %q doesn't match meta sha256 %q", path, meta.SHA256)
	}
}
