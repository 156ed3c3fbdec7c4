package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

// RemoteStore uploads objects to an HTTP object service with
// PUT {base}/{path}. The service may answer with {"url": "..."}; otherwise
// the object URL is {base}/{path}.
type RemoteStore struct {
	client  *resty.Client
	baseURL string
	log     logger.Logger
}

type uploadResponse struct {
	URL string `json:"url"`
}

func NewRemoteStore(baseURL, token string, timeout time.Duration, log logger.Logger) *RemoteStore {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &RemoteStore{client: client, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

func (s *RemoteStore) Upload(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var out uploadResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		SetResult(&out).
		Put("/" + p)
	if err != nil {
		s.log.Error("Object upload failed", "error", err, "path", p)
		return "", fmt.Errorf("%w: upload %s: %v", apperrors.ErrUnreachable, p, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "", fmt.Errorf("%w: object store rejected credentials", apperrors.ErrUnauthorized)
	case code == http.StatusRequestEntityTooLarge:
		return "", fmt.Errorf("%w: object too large", apperrors.ErrValidation)
	case code >= 500:
		s.log.Error("Object store error", "status", code, "path", p)
		return "", fmt.Errorf("%w: object store status %d", apperrors.ErrUnreachable, code)
	case code >= 300:
		return "", fmt.Errorf("object store status %d", code)
	}

	if out.URL != "" {
		return out.URL, nil
	}
	return s.baseURL + "/" + p, nil
}
