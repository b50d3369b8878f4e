package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openharbor/chunkstream/internal/common"
	"github.com/openharbor/chunkstream/internal/storage"
	"github.com/openharbor/chunkstream/internal/uploads"
	"github.com/openharbor/chunkstream/pkg/config"
	"github.com/openharbor/chunkstream/pkg/types"
	"github.com/openharbor/chunkstream/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testJWTSecret = "test-secret"

func setupTestRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Upload{}))

	localStorage, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		Upload: config.UploadConfig{
			TTL:   24 * time.Hour,
			Guard: "memory",
		},
		Auth: config.AuthConfig{JWTSecret: testJWTSecret},
	}

	service := uploads.NewService(&common.Database{DB: db}, localStorage, uploads.NewMemoryGuard(), nil, &cfg.Upload)
	return setupRouter(service, cfg)
}

// chunkBody builds the multipart form a chunk request carries.
func chunkBody(t *testing.T, uploadID string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if uploadID != "" {
		require.NoError(t, writer.WriteField("upload_id", uploadID))
	}
	part, err := writer.CreateFormFile("file", "report.bin")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func postChunk(t *testing.T, router *gin.Engine, uploadID string, data []byte, contentRange string) *httptest.ResponseRecorder {
	body, contentType := chunkBody(t, uploadID, data)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)
	if contentRange != "" {
		req.Header.Set("Content-Range", contentRange)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func decodeSnapshot(t *testing.T, recorder *httptest.ResponseRecorder) types.UploadSnapshot {
	var snapshot types.UploadSnapshot
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &snapshot))
	return snapshot
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	return payload
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantStart int64
		wantEnd   int64
		wantTotal int64
		wantErr   *uploads.Error
	}{
		{
			name:   "first chunk",
			header: "bytes 0-9999/15480",
			wantStart: 0, wantEnd: 10000, wantTotal: 15480,
		},
		{
			name:   "unknown total",
			header: "bytes 0-511/*",
			wantStart: 0, wantEnd: 512, wantTotal: -1,
		},
		{
			name:    "missing header",
			header:  "",
			wantErr: uploads.ErrMissingRange,
		},
		{
			name:    "malformed header",
			header:  "bytes=0-9999/15480",
			wantErr: uploads.ErrInvalidRange,
		},
		{
			name:    "start after end",
			header:  "bytes 100-50/200",
			wantErr: uploads.ErrInvalidRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunkRange, err := parseContentRange(tt.header)

			if tt.wantErr != nil {
				var uploadErr *uploads.Error
				require.ErrorAs(t, err, &uploadErr)
				assert.Equal(t, tt.wantErr.Code, uploadErr.Code)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, chunkRange.start)
			assert.Equal(t, tt.wantEnd, chunkRange.end)
			assert.Equal(t, tt.wantTotal, chunkRange.total)
		})
	}
}

func TestUploadEndpoint_FirstChunk(t *testing.T) {
	router := setupTestRouter(t)
	data := bytes.Repeat([]byte("a"), 10000)

	recorder := postChunk(t, router, "", data, "bytes 0-9999/15480")
	require.Equal(t, http.StatusOK, recorder.Code)

	snapshot := decodeSnapshot(t, recorder)
	assert.NotEqual(t, uuid.Nil, snapshot.UploadID)
	assert.Equal(t, int64(10000), snapshot.Offset)
	assert.False(t, snapshot.ExpiresAt.IsZero())
}

func TestUploadEndpoint_Resume(t *testing.T) {
	router := setupTestRouter(t)

	recorder := postChunk(t, router, "", bytes.Repeat([]byte("a"), 10000), "bytes 0-9999/15480")
	require.Equal(t, http.StatusOK, recorder.Code)
	id := decodeSnapshot(t, recorder).UploadID.String()

	recorder = postChunk(t, router, id, bytes.Repeat([]byte("b"), 5480), "bytes 10000-15479/15480")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, int64(15480), decodeSnapshot(t, recorder).Offset)
}

func TestUploadEndpoint_MissingRange(t *testing.T) {
	router := setupTestRouter(t)

	recorder := postChunk(t, router, "", []byte("data"), "")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "ERR_MISSING_RANGE", decodeError(t, recorder)["code"])
}

func TestUploadEndpoint_MissingChunk(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", nil)
	req.Header.Set("Content-Range", "bytes 0-3/4")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "ERR_MISSING_CHUNK", decodeError(t, recorder)["code"])
}

func TestUploadEndpoint_OffsetMismatch(t *testing.T) {
	router := setupTestRouter(t)

	recorder := postChunk(t, router, "", bytes.Repeat([]byte("a"), 10000), "bytes 0-9999/15480")
	require.Equal(t, http.StatusOK, recorder.Code)
	id := decodeSnapshot(t, recorder).UploadID.String()

	recorder = postChunk(t, router, id, bytes.Repeat([]byte("b"), 500), "bytes 9000-9499/15480")
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	payload := decodeError(t, recorder)
	assert.Equal(t, "ERR_OFFSET_MISMATCH", payload["code"])
	assert.Equal(t, float64(10000), payload["offset"])
}

func TestUploadEndpoint_ChunkSizeMismatch(t *testing.T) {
	router := setupTestRouter(t)

	// Declares 100 bytes but ships 50.
	recorder := postChunk(t, router, "", bytes.Repeat([]byte("a"), 50), "bytes 0-99/100")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "ERR_CHUNK_SIZE_MISMATCH", decodeError(t, recorder)["code"])
}

func TestCompleteEndpoint(t *testing.T) {
	router := setupTestRouter(t)

	recorder := postChunk(t, router, "", bytes.Repeat([]byte("a"), 15480), "bytes 0-15479/15480")
	require.Equal(t, http.StatusOK, recorder.Code)
	id := decodeSnapshot(t, recorder).UploadID.String()

	// Wrong declared size is rejected and the session stays open.
	recorder = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/uploads/%s/complete", id),
		bytes.NewBufferString(`{"expected_size": 9999}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "ERR_SIZE_MISMATCH", decodeError(t, recorder)["code"])

	// Correct size seals the upload.
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/uploads/%s/complete", id),
		bytes.NewBufferString(`{"expected_size": 15480}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	var result types.CompleteResult
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	assert.True(t, result.SizeChecked)

	// Appending after completion is a client error.
	recorder = postChunk(t, router, id, []byte("more"), "bytes 15480-15483/15484")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "ERR_ALREADY_COMPLETE", decodeError(t, recorder)["code"])
}

func TestCompleteEndpoint_MalformedBody(t *testing.T) {
	router := setupTestRouter(t)

	recorder := postChunk(t, router, "", []byte("hello"), "bytes 0-4/5")
	require.Equal(t, http.StatusOK, recorder.Code)
	id := decodeSnapshot(t, recorder).UploadID.String()

	recorder = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/uploads/%s/complete", id),
		bytes.NewBufferString(`{"expected_size": `))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "ERR_INVALID_BODY", decodeError(t, recorder)["code"])
}

func TestGetEndpoint(t *testing.T) {
	router := setupTestRouter(t)

	recorder := postChunk(t, router, "", []byte("hello"), "bytes 0-4/5")
	require.Equal(t, http.StatusOK, recorder.Code)
	id := decodeSnapshot(t, recorder).UploadID.String()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads/"+id, nil)
	getRecorder := httptest.NewRecorder()
	router.ServeHTTP(getRecorder, req)

	require.Equal(t, http.StatusOK, getRecorder.Code)
	assert.Equal(t, int64(5), decodeSnapshot(t, getRecorder).Offset)
}

func TestGetEndpoint_UnknownUpload(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads/"+uuid.NewString(), nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "ERR_UPLOAD_NOT_FOUND", decodeError(t, recorder)["code"])
}

func TestDeleteEndpoint(t *testing.T) {
	router := setupTestRouter(t)

	recorder := postChunk(t, router, "", []byte("hello"), "bytes 0-4/5")
	require.Equal(t, http.StatusOK, recorder.Code)
	id := decodeSnapshot(t, recorder).UploadID.String()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/uploads/"+id, nil)
	deleteRecorder := httptest.NewRecorder()
	router.ServeHTTP(deleteRecorder, req)
	require.Equal(t, http.StatusNoContent, deleteRecorder.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/uploads/"+id, nil)
	getRecorder := httptest.NewRecorder()
	router.ServeHTTP(getRecorder, req)
	assert.Equal(t, http.StatusNotFound, getRecorder.Code)
}

func TestListEndpoint_RequiresOwner(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestListEndpoint_WithOwner(t *testing.T) {
	router := setupTestRouter(t)
	owner := uuid.New()

	token, err := utils.GenerateJWT(owner, testJWTSecret, time.Hour)
	require.NoError(t, err)

	body, contentType := chunkBody(t, "", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Range", "bytes 0-4/5")
	req.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/uploads", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	listRecorder := httptest.NewRecorder()
	router.ServeHTTP(listRecorder, req)

	require.Equal(t, http.StatusOK, listRecorder.Code)
	var sessions []types.Upload
	require.NoError(t, json.Unmarshal(listRecorder.Body.Bytes(), &sessions))
	assert.Len(t, sessions, 1)
}
