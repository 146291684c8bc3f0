package quartermaster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// maxClassifierImageBytes is the largest image payload the classification
// service accepts. Larger attachments are rejected locally, without
// making the HTTP call.
const maxClassifierImageBytes = 4_000_000

// ErrImageTooLarge indicates the image exceeds [maxClassifierImageBytes]
var ErrImageTooLarge = errors.New("image exceeds maximum size")

// Classification is a single label/confidence pair returned by the
// classification service.
type Classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// classifierResponse is the service's JSON envelope
type classifierResponse struct {
	Result []Classification `json:"result"`
}

// Classifier posts raw image bytes to a hosted classification model and
// returns the labels and scores, in the order the service reported them.
type Classifier struct {
	config     *ClassifierConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func newClassifier(config *ClassifierConfig, httpClient *http.Client) *Classifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Classifier{
		config:     config,
		httpClient: httpClient,
		logger: slog.New(newTintHandler(config.LogLevel)).With(
			loggerNameKey, "classifier",
		),
	}
}

func (c *Classifier) endpoint() string {
	return fmt.Sprintf(
		"%s/%s",
		strings.TrimSuffix(c.config.URL, "/"),
		strings.TrimPrefix(c.config.Model, "/"),
	)
}

// Classify sends the image to the classification endpoint. Payloads over
// the size limit return [ErrImageTooLarge] without any HTTP request.
func (c *Classifier) Classify(
	ctx context.Context,
	image []byte,
) ([]Classification, error) {
	if len(image) > maxClassifierImageBytes {
		return nil, ErrImageTooLarge
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultClassifierRequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.endpoint(),
		bytes.NewReader(image),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "error classifying image", tint.Err(err))
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		c.logger.ErrorContext(
			ctx,
			"error classifying image",
			"status_code", resp.StatusCode,
			"status", resp.Status,
		)
		return nil, fmt.Errorf("classification failed: %s", resp.Status)
	}

	var payload classifierResponse
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.ErrorContext(
			ctx,
			"error decoding classification response",
			tint.Err(err),
		)
		return nil, err
	}
	c.logger.InfoContext(
		ctx,
		"classified image",
		"labels", len(payload.Result),
		"elapsed", time.Since(started),
	)
	return payload.Result, nil
}

// formatClassifications renders label/score pairs for the /describe
// embed, preserving the order the service returned them. Scores are
// percentages rounded to two decimal places.
func formatClassifications(classifications []Classification) string {
	sb := strings.Builder{}
	for _, c := range classifications {
		sb.WriteString(
			fmt.Sprintf(
				"Label: **%s** Score: **%.2f**\n\n",
				c.Label,
				c.Score*100,
			),
		)
	}
	return sb.String()
}

// downloadAttachment fetches an attachment from the Discord CDN
func downloadAttachment(
	ctx context.Context,
	httpClient *http.Client,
	url string,
) ([]byte, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment download failed: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
