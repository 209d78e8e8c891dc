package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Lllllllleong/cadtostl/internal/models"
	"github.com/Lllllllleong/cadtostl/internal/services"
	"github.com/Lllllllleong/cadtostl/internal/stl"
)

const triangleOBJ = "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"

func newTestServer(t *testing.T, maxUpload int64) *httptest.Server {
	t.Helper()
	conv, err := services.NewUploadConverter(services.UploadConfig{
		DataDir:        t.TempDir(),
		Deflection:     models.DefaultDeflection(),
		MaxUploadBytes: maxUpload,
	})
	if err != nil {
		t.Fatalf("NewUploadConverter() error = %v", err)
	}
	ts := httptest.NewServer((&server{conv: conv, allowOrigin: "*"}).routes())
	t.Cleanup(ts.Close)
	return ts
}

func postFile(t *testing.T, ts *httptest.Server, field, filename, content string, values map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range values {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+"/convert", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /convert: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) models.UploadResponse {
	t.Helper()
	var out models.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 1<<20)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestConvertAndDownload(t *testing.T) {
	ts := newTestServer(t, 1<<20)
	resp := postFile(t, ts, "cadFile", "bracket.obj", triangleOBJ, map[string]string{
		"precision":         "0.05",
		"angularDeflection": "0.1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decode(t, resp)
	if !strings.HasPrefix(out.DownloadURL, "/download/") || out.Filename != "bracket.stl" || out.TriangleCount != 1 {
		t.Fatalf("response = %+v", out)
	}
	if !strings.Contains(strings.Join(out.Log, "\n"), "linear=0.05 angular=0.1") {
		t.Errorf("form tolerances not applied:\n%s", strings.Join(out.Log, "\n"))
	}

	dl, err := http.Get(ts.URL + out.DownloadURL)
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", dl.StatusCode)
	}
	s, err := stl.Decode(dl.Body)
	if err != nil {
		t.Fatalf("downloaded STL: %v", err)
	}
	if len(s.Triangles) != 1 {
		t.Errorf("downloaded %d triangles", len(s.Triangles))
	}
}

func TestConvertRejects(t *testing.T) {
	ts := newTestServer(t, 1<<20)
	tests := []struct {
		name     string
		field    string
		filename string
		values   map[string]string
		status   int
	}{
		{"unsupported", "cadFile", "drawing.dwg", nil, http.StatusBadRequest},
		{"missing file", "", "", nil, http.StatusBadRequest},
		{"wrong field", "file", "a.obj", nil, http.StatusBadRequest},
		{"bad precision", "cadFile", "a.obj", map[string]string{"precision": "fine"}, http.StatusBadRequest},
		{"negative angular", "cadFile", "a.obj", map[string]string{"angularDeflection": "-1"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postFile(t, ts, tt.field, tt.filename, triangleOBJ, tt.values)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if out := decode(t, resp); out.Message == "" {
				t.Error("error response has no message")
			}
		})
	}
}

func TestConvertFailureCarriesLog(t *testing.T) {
	ts := newTestServer(t, 1<<20)
	resp := postFile(t, ts, "cadFile", "empty.obj", "v 0 0 0\n", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decode(t, resp)
	if out.ErrorKind != "empty geometry" || out.Message == "" || len(out.Log) == 0 {
		t.Errorf("response = %+v", out)
	}
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, 64)
	resp := postFile(t, ts, "cadFile", "big.obj", strings.Repeat("v 0 0 0\n", 100), nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusRequestEntityTooLarge)
	}
}

func TestDownloadUnknown(t *testing.T) {
	ts := newTestServer(t, 1<<20)
	for _, name := range []string{"nope.stl", "0b8e6f7e-7a43-4a43-9b61-3f2f1f6a2c11.stl", "..%2Fsecret"} {
		resp, err := http.Get(ts.URL + "/download/" + name)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET /download/%s status = %d, want 404", name, resp.StatusCode)
		}
	}
}

func TestPreflight(t *testing.T) {
	ts := newTestServer(t, 1<<20)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/convert", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "POST") {
		t.Errorf("Allow-Methods = %q", resp.Header.Get("Access-Control-Allow-Methods"))
	}
}
