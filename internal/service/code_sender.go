package service

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

// HTTPCodeSender posts verification codes to an SMS gateway.
type HTTPCodeSender struct {
	client *resty.Client
	log    logger.Logger
}

type sendCodeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func NewHTTPCodeSender(baseURL, token string, timeout time.Duration, log logger.Logger) *HTTPCodeSender {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPCodeSender{client: client, log: log}
}

func (s *HTTPCodeSender) SendCode(ctx context.Context, phone, code string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(sendCodeRequest{Phone: phone, Code: code}).
		Post("/codes")
	if err != nil {
		s.log.Error("SMS gateway request failed", "error", err)
		return fmt.Errorf("%w: sms gateway: %v", apperrors.ErrUnreachable, err)
	}

	switch code := resp.StatusCode(); {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: sms gateway rejected %s", apperrors.ErrValidation, phone)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: sms gateway", apperrors.ErrRateLimited)
	default:
		s.log.Error("SMS gateway returned error", "status", code, "body", resp.String())
		return fmt.Errorf("%w: sms gateway status %d", apperrors.ErrUnreachable, code)
	}
}
