package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"hedge_bot/internal/models"
)

// SignRequest describes one transaction to sign for an account.
type SignRequest struct {
	TxType  int
	Nonce   int64
	Payload any
}

// Signer turns transaction payloads into the tx_info blob /api/v1/sendTx expects.
type Signer interface {
	Sign(ctx context.Context, req SignRequest) (string, error)
	// AuthToken returns a short-lived token for authenticated reads.
	AuthToken(ctx context.Context) (string, error)
}

// RemoteSigner delegates signing to a sidecar process that holds the signing library.
//
//	POST {signer_url}/sign  {"tx_type","account_index","api_key_index","nonce","private_key","tx"} -> {"tx_info"}
//	POST {signer_url}/auth  {"account_index","api_key_index","private_key","deadline"}           -> {"token"}
type RemoteSigner struct {
	cred    models.AccountCredential
	baseURL string

	once sync.Once
	http *resty.Client
}

func NewRemoteSigner(cred models.AccountCredential) *RemoteSigner {
	return &RemoteSigner{cred: cred, baseURL: strings.TrimSuffix(cred.SignerURL, "/")}
}

func (s *RemoteSigner) client() *resty.Client {
	s.once.Do(func() {
		s.http = resty.New().
			SetBaseURL(s.baseURL).
			SetTimeout(10*time.Second).
			SetHeader("Content-Type", "application/json")
	})
	return s.http
}

func (s *RemoteSigner) post(ctx context.Context, path string, body map[string]any, out any) error {
	if s.baseURL == "" {
		return errors.Errorf("signer url not configured for %s", s.cred.AccountName)
	}
	payload, err := sonic.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal signer request")
	}
	resp, err := s.client().R().SetContext(ctx).SetBody(payload).Post(path)
	if err != nil {
		return errors.Wrap(err, "signer "+path)
	}
	if !resp.IsSuccess() {
		return errors.Errorf("signer %s: http %d: %s", path, resp.StatusCode(), clip(resp.Body()))
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrap(err, "decode signer response")
	}
	return nil
}

func (s *RemoteSigner) Sign(ctx context.Context, req SignRequest) (string, error) {
	var out struct {
		TxInfo string `json:"tx_info"`
		Error  string `json:"error"`
	}
	err := s.post(ctx, "/sign", map[string]any{
		"tx_type":       req.TxType,
		"account_index": s.cred.AccountIndex,
		"api_key_index": s.cred.APIKeyIndex,
		"nonce":         req.Nonce,
		"private_key":   s.cred.APIKey,
		"tx":            req.Payload,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", errors.Errorf("sign tx %d: %s", req.TxType, out.Error)
	}
	if out.TxInfo == "" {
		return "", errors.Errorf("sign tx %d: empty tx_info", req.TxType)
	}
	return out.TxInfo, nil
}

func (s *RemoteSigner) AuthToken(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	err := s.post(ctx, "/auth", map[string]any{
		"account_index": s.cred.AccountIndex,
		"api_key_index": s.cred.APIKeyIndex,
		"private_key":   s.cred.APIKey,
		"deadline":      time.Now().Add(10 * time.Minute).Unix(),
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Error != "" || out.Token == "" {
		return "", errors.Errorf("auth token: %s", out.Error)
	}
	return out.Token, nil
}

func clip(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
