package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parkngo/backend/libs/signing"
	"parkngo/backend/parking"
	"parkngo/backend/services/ingest-service/internal/service"
	"parkngo/backend/store"
)

const testSecret = "test-secret"

func newScanServer(t *testing.T) (http.HandlerFunc, *parking.Records) {
	t.Helper()
	records := parking.NewRecords(store.NewMemory())
	svc := service.NewIngestService(records, parking.Tariff{}, zap.NewNop())
	return NewScanHandler(svc, testSecret, zap.NewNop()), records
}

func postScan(t *testing.T, handler http.HandlerFunc, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ingest/scan", bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(signing.Header, sig)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestScanRejectsMissingSignature(t *testing.T) {
	handler, _ := newScanServer(t)
	body := []byte(`{"type":"entry","vehicle_id":"AB123CD"}`)

	rec := postScan(t, handler, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	out := decodeBody(t, rec)
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, "invalid sig", out["error"])
}

func TestScanRejectsBadSignature(t *testing.T) {
	handler, _ := newScanServer(t)
	body := []byte(`{"type":"entry","vehicle_id":"AB123CD"}`)

	rec := postScan(t, handler, body, signing.Sign("wrong-secret", body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestScanRejectsTamperedBody(t *testing.T) {
	handler, _ := newScanServer(t)
	signed := []byte(`{"type":"entry","vehicle_id":"AB123CD"}`)
	tampered := []byte(`{"type":"entry","vehicle_id":"XY999ZZ"}`)

	rec := postScan(t, handler, tampered, signing.Sign(testSecret, signed))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestScanEntryCreatesSession(t *testing.T) {
	handler, records := newScanServer(t)
	body := []byte(`{"type":"entry","vehicle_id":"AB123CD","slot_id":"lot1/slot42","scanner_id":"gate-1","timestamp":9000}`)

	rec := postScan(t, handler, body, signing.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeBody(t, rec)
	assert.Equal(t, true, out["ok"])
	sessionID, _ := out["session_id"].(string)
	require.NotEmpty(t, sessionID)

	session, err := records.Session(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, parking.StatusPending, session.Status)
	assert.Equal(t, "lot1/slot42", session.SlotID)
}

func TestScanDuplicateEntryConflicts(t *testing.T) {
	handler, _ := newScanServer(t)
	body := []byte(`{"type":"entry","vehicle_id":"AB123CD","timestamp":9000}`)
	sig := signing.Sign(testSecret, body)

	first := postScan(t, handler, body, sig)
	require.Equal(t, http.StatusOK, first.Code)

	second := postScan(t, handler, body, sig)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestScanExitWithoutSession(t *testing.T) {
	handler, _ := newScanServer(t)
	body := []byte(`{"type":"exit","vehicle_id":"GHOST","timestamp":9000}`)

	rec := postScan(t, handler, body, signing.Sign(testSecret, body))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanUnknownType(t *testing.T) {
	handler, _ := newScanServer(t)
	body := []byte(`{"type":"hover","vehicle_id":"AB123CD"}`)

	rec := postScan(t, handler, body, signing.Sign(testSecret, body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanRejectsInvalidJSON(t *testing.T) {
	handler, _ := newScanServer(t)
	body := []byte(`{"type":`)

	rec := postScan(t, handler, body, signing.Sign(testSecret, body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
