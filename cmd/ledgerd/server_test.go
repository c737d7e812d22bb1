package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledgercore/internal/ledger"
	"ledgercore/internal/store"
	"ledgercore/internal/swap"
	"ledgercore/internal/tx"
	"ledgercore/internal/validate"
)

func newTestServer(t *testing.T, genesis ...tx.Output) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.InMemory = true

	db, err := store.NewMemDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	applier, err := ledger.NewApplier(db, zap.NewNop())
	require.NoError(t, err)
	if len(genesis) > 0 {
		_, err = applier.Bootstrap(genesis)
		require.NoError(t, err)
	}

	validator, err := validate.New(validate.Config{}, nil)
	require.NoError(t, err)

	coord := swap.NewCoordinator(validator, applier, zap.NewNop())
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewServer(cfg, zap.NewNop(), metrics, validator, applier, coord)
}

func postTx(t *testing.T, h http.Handler, txn *tx.Transaction) (*httptest.ResponseRecorder, txResponse) {
	t.Helper()
	body, err := json.Marshal(txn)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/tx", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp txResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec, resp
}

func TestSubmitTransaction(t *testing.T) {
	var tokenX tx.TokenID
	tokenX[0] = 'x'
	genesis := tx.Output{Value: 100, Token: tokenX, Salt: [32]byte{1}}
	srv := newTestServer(t, genesis)
	h := srv.Handler()

	balanced := &tx.Transaction{
		Inputs: []tx.Input{{Commitment: genesis.Commitment(), Value: 100, Token: tokenX}},
		Outputs: []tx.Output{
			{Value: 40, Token: tokenX, Salt: [32]byte{2}},
			{Value: 60, Token: tokenX, Salt: [32]byte{3}},
		},
	}

	t.Run("accepted", func(t *testing.T) {
		rec, resp := postTx(t, h, balanced)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, balanced.ID().String(), resp.TxID)
		assert.NotEmpty(t, resp.Root)
	})

	t.Run("double spend rejected", func(t *testing.T) {
		rec, resp := postTx(t, h, balanced)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, resp.Reason, "double spend")
	})

	t.Run("conservation violation rejected", func(t *testing.T) {
		broken := &tx.Transaction{
			Inputs: []tx.Input{{Commitment: genesis.Commitment(), Value: 100, Token: tokenX}},
			Outputs: []tx.Output{
				{Value: 40, Token: tokenX, Salt: [32]byte{4}},
				{Value: 50, Token: tokenX, Salt: [32]byte{5}},
			},
		}
		rec, resp := postTx(t, h, broken)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, resp.Reason, "conservation violation")
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/tx", bytes.NewReader([]byte("{")))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthAndRoot(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])

	req = httptest.NewRequest(http.MethodGet, "/root", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSwapEndpoints(t *testing.T) {
	var tokenX, tokenY tx.TokenID
	tokenX[0] = 'x'
	tokenY[0] = 'y'
	fundA := tx.Output{Value: 100, Token: tokenX, Salt: [32]byte{1}}
	fundB := tx.Output{Value: 40, Token: tokenY, Salt: [32]byte{2}}
	srv := newTestServer(t, fundA, fundB)
	h := srv.Handler()

	respend := func(prev tx.Output, seed byte) *tx.Transaction {
		out := prev
		out.Salt = [32]byte{seed}
		return &tx.Transaction{
			Inputs:  []tx.Input{{Commitment: prev.Commitment(), Value: prev.Value, Token: prev.Token}},
			Outputs: []tx.Output{out},
		}
	}

	post := func(path string, body interface{}) (*httptest.ResponseRecorder, swapResponse) {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		var resp swapResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		return rec, resp
	}

	secret := []byte("shared secret")
	rec, resp := post("/swap/propose", swapProposeRequest{
		LegA:     respend(fundA, 3),
		LegB:     respend(fundB, 4),
		HashLock: swap.LockDigest(secret),
		Expiry:   100,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "proposed", resp.Status)
	id, err := uuid.Parse(resp.SwapID)
	require.NoError(t, err)

	rec, resp = post("/swap/lock", swapActionRequest{SwapID: id, Height: 10})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "locked", resp.Status)

	// A wrong secret is refused without advancing the swap.
	rec, _ = post("/swap/redeem", swapActionRequest{SwapID: id, Secret: []byte("wrong"), Height: 50})
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/swap/status?id="+id.String(), nil)
	statusRec := httptest.NewRecorder()
	h.ServeHTTP(statusRec, req)
	require.Equal(t, http.StatusOK, statusRec.Code)

	rec, resp = post("/swap/redeem", swapActionRequest{SwapID: id, Secret: secret, Height: 50})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "redeemed", resp.Status)

	// Terminal swaps disappear from the status surface.
	req = httptest.NewRequest(http.MethodGet, "/swap/status?id="+id.String(), nil)
	statusRec = httptest.NewRecorder()
	h.ServeHTTP(statusRec, req)
	assert.Equal(t, http.StatusNotFound, statusRec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, 1)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}
