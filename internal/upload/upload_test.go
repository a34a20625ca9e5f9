package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLimit = 10 << 20

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	require.NoError(t, EnsureDir(dir))

	svc := NewService(dir, testLimit, zerolog.Nop())
	svc.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return svc, dir
}

func imageBytes(size int) []byte {
	data := bytes.Repeat([]byte{0xAB}, size)
	copy(data, pngHeader)
	return data
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestSaveStoresFileUnderTimestampedName(t *testing.T) {
	svc, dir := newTestService(t)
	data := imageBytes(1024)

	res, err := svc.Save(context.Background(), bytes.NewReader(data), "cat.png")
	require.NoError(t, err)

	assert.Equal(t, "1700000000123-cat.png", res.Name)
	assert.Equal(t, "/uploads/1700000000123-cat.png", res.URL)
	assert.Equal(t, int64(len(data)), res.Size)
	assert.Equal(t, "image/png", res.ContentType)

	stored, err := os.ReadFile(filepath.Join(dir, res.Name))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestSaveAcceptsExactlyTheLimit(t *testing.T) {
	svc, _ := newTestService(t)
	res, err := svc.Save(context.Background(), bytes.NewReader(make([]byte, testLimit)), "big.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(testLimit), res.Size)
}

func TestSaveRejectsOversizedFileAndCleansUp(t *testing.T) {
	svc, dir := newTestService(t)

	_, err := svc.Save(context.Background(), bytes.NewReader(make([]byte, testLimit+1)), "big.bin")
	require.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveStripsDirectories(t *testing.T) {
	svc, dir := newTestService(t)

	res, err := svc.Save(context.Background(), bytes.NewReader([]byte("x")), `..\..\evil/../../passwd`)
	require.NoError(t, err)
	assert.Equal(t, "1700000000123-passwd", res.Name)
	assert.FileExists(t, filepath.Join(dir, res.Name))
}

func TestSaveRejectsEmptyName(t *testing.T) {
	svc, _ := newTestService(t)
	for _, name := range []string{"", "  ", "..", "/"} {
		_, err := svc.Save(context.Background(), bytes.NewReader([]byte("x")), name)
		assert.ErrorIs(t, err, ErrInvalidFilename, "name %q", name)
	}
}

func TestSaveHonoursCancelledContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Save(ctx, bytes.NewReader([]byte("x")), "a.txt")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnsureDirFailsOnFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Error(t, EnsureDir(filepath.Join(file, "uploads")))
}

func TestHandlerUploadThenFetch(t *testing.T) {
	svc, dir := newTestService(t)
	data := imageBytes(5 << 20)

	mux := http.NewServeMux()
	mux.Handle("/upload", NewHandler(svc, zerolog.Nop()))
	mux.Handle("/uploads/", http.StripPrefix(URLPrefix, http.FileServer(http.Dir(dir))))

	body, contentType := multipartBody(t, FormField, "photo.png", data)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "/uploads/1700000000123-photo.png", resp.ImageURL)
	assert.Equal(t, "image/png", resp.ContentType)
	assert.Equal(t, int64(len(data)), resp.Size)

	get := httptest.NewRecorder()
	mux.ServeHTTP(get, httptest.NewRequest(http.MethodGet, resp.ImageURL, http.NoBody))
	require.Equal(t, http.StatusOK, get.Code)
	fetched, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, fetched), "fetched bytes differ from upload")
}

func TestHandlerRejectsOversizedUpload(t *testing.T) {
	svc, dir := newTestService(t)
	h := NewHandler(svc, zerolog.Nop())

	body, contentType := multipartBody(t, FormField, "huge.png", imageBytes(15<<20))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Contains(t, rr.Body.String(), "10 MiB")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandlerMissingFile(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc, zerolog.Nop())

	body, contentType := multipartBody(t, "attachment", "photo.png", imageBytes(16))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `\"image\"`)
}

func TestHandlerRejectsNonMultipart(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString(`{"image":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
