package quartermaster

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t testing.TB, handler http.Handler) (*Classifier, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultTestConfig(t)
	cfg.Classifier.URL = srv.URL
	return newClassifier(cfg.Classifier, srv.Client()), srv
}

func TestClassify(t *testing.T) {
	var requestCount atomic.Int64
	var seenPath string
	var seenAuth string
	var seenBody []byte

	classifier, _ := newTestClassifier(
		t,
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				requestCount.Add(1)
				seenPath = r.URL.Path
				seenAuth = r.Header.Get("Authorization")
				var err error
				seenBody, err = io.ReadAll(r.Body)
				require.NoError(t, err)

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write(
					[]byte(`{"result":[{"label":"cat","score":0.9231},{"label":"lynx","score":0.0412}]}`),
				)
			},
		),
	)

	image := bytes.Repeat([]byte{0xff}, 1024)
	result, err := classifier.Classify(context.Background(), image)
	require.NoError(t, err)

	assert.Equal(t, int64(1), requestCount.Load())
	assert.Equal(t, "/@cf/microsoft/resnet-50", seenPath)
	assert.Equal(t, "Bearer classifier-test-token", seenAuth)
	assert.Equal(t, image, seenBody)

	require.Len(t, result, 2)
	assert.Equal(t, "cat", result[0].Label)
	assert.InDelta(t, 0.9231, result[0].Score, 0.0001)
	assert.Equal(t, "lynx", result[1].Label)
}

func TestClassifyImageTooLarge(t *testing.T) {
	var requestCount atomic.Int64

	classifier, _ := newTestClassifier(
		t,
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				requestCount.Add(1)
				_, _ = w.Write([]byte(`{"result":[]}`))
			},
		),
	)

	oversized := make([]byte, maxClassifierImageBytes+1)
	_, err := classifier.Classify(context.Background(), oversized)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	// rejected before any HTTP request
	assert.Zero(t, requestCount.Load())
}

func TestClassifyServerError(t *testing.T) {
	classifier, _ := newTestClassifier(
		t,
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", http.StatusBadGateway)
			},
		),
	)

	_, err := classifier.Classify(context.Background(), []byte("image"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classification failed")
}

func TestClassifierEndpoint(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Classifier.URL = "https://classifier.example.com/"
	cfg.Classifier.Model = "/@cf/microsoft/resnet-50"
	classifier := newClassifier(cfg.Classifier, nil)

	// trailing and leading slashes collapse to a single separator
	assert.Equal(
		t,
		"https://classifier.example.com/@cf/microsoft/resnet-50",
		classifier.endpoint(),
	)
}

func TestFormatClassifications(t *testing.T) {
	formatted := formatClassifications(
		[]Classification{
			{Label: "cat", Score: 0.9231},
			{Label: "lynx", Score: 0.0412},
		},
	)
	assert.Equal(
		t,
		"Label: **cat** Score: **92.31**\n\nLabel: **lynx** Score: **4.12**\n\n",
		formatted,
	)
}

func TestDownloadAttachment(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("image-bytes"))
			},
		),
	)
	t.Cleanup(srv.Close)

	data, err := downloadAttachment(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)
}

func TestDownloadAttachmentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := downloadAttachment(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attachment download failed")
}
