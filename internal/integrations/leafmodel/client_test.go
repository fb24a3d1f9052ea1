package leafmodel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cropsight/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	return NewClient(config.ModelConfig{URL: serverURL, TimeoutSeconds: 2})
}

func TestDetectSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/process", r.URL.Path)
		assert.Equal(t, "http://host/uploads/request-images/a.jpg", r.URL.Query().Get("url"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"leafs": [
				{
					"image": "http://model/static/leaf_1.jpg",
					"heatmap": "http://model/static/heatmap_1.jpg",
					"anomaly_score": 0.71,
					"is_diseased": true,
					"diseases": {"black_rot": {"confidence": 0.92, "treatment": "Spray X"}, "esca": 0.44}
				}
			],
			"summary": {"total_leafs": 1, "diseased_leafs": 1, "healthy_leafs": 0}
		}`))
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Detect(context.Background(), "http://host/uploads/request-images/a.jpg")
	require.NoError(t, err)
	require.Len(t, result.Leafs, 1)

	leaf := result.Leafs[0]
	require.NotNil(t, leaf.IsDiseased)
	assert.True(t, *leaf.IsDiseased)
	require.Len(t, leaf.Diseases, 2)

	// Object order is preserved, detail objects and bare numbers both parse
	assert.Equal(t, "black_rot", leaf.Diseases[0].Name)
	require.NotNil(t, leaf.Diseases[0].Confidence)
	assert.InDelta(t, 0.92, *leaf.Diseases[0].Confidence, 1e-9)
	require.NotNil(t, leaf.Diseases[0].Treatment)
	assert.Equal(t, "Spray X", *leaf.Diseases[0].Treatment)

	assert.Equal(t, "esca", leaf.Diseases[1].Name)
	require.NotNil(t, leaf.Diseases[1].Confidence)
	assert.InDelta(t, 0.44, *leaf.Diseases[1].Confidence, 1e-9)
	assert.Nil(t, leaf.Diseases[1].Treatment)

	require.NotNil(t, result.Summary)
	assert.Equal(t, 1, result.Summary.TotalLeafs)
}

func TestDetectEmptyLeafs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"leafs": []}`))
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Detect(context.Background(), "http://host/x.jpg")
	require.NoError(t, err)
	assert.Empty(t, result.Leafs)
}

func TestDetectNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Detect(context.Background(), "http://host/x.jpg")
	assert.Error(t, err)
}

func TestDetectMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"leafs": "not-an-array"`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Detect(context.Background(), "http://host/x.jpg")
	assert.Error(t, err)
}

func TestDetectTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"leafs": []}`))
	}))
	defer srv.Close()

	client := NewClient(config.ModelConfig{URL: srv.URL, TimeoutSeconds: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Detect(ctx, "http://host/x.jpg")
	assert.Error(t, err)
}

func TestPingHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.True(t, newTestClient(srv.URL).Ping(context.Background()))
}

func TestPingUnhealthyOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.False(t, newTestClient(srv.URL).Ping(context.Background()))
}

func TestPingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	assert.False(t, newTestClient(srv.URL).Ping(context.Background()))
}

func TestDiseaseListRoundTrip(t *testing.T) {
	conf := 0.8
	treatment := "copper fungicide"
	list := DiseaseList{
		{Name: "downy_mildew", Confidence: &conf, Treatment: &treatment},
		{Name: "healthy", Confidence: &conf},
	}

	data, err := json.Marshal(list)
	require.NoError(t, err)

	var decoded DiseaseList
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "downy_mildew", decoded[0].Name)
	assert.Equal(t, "healthy", decoded[1].Name)
	require.NotNil(t, decoded[0].Treatment)
	assert.Equal(t, treatment, *decoded[0].Treatment)
}
