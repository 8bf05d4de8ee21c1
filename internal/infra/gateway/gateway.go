package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"app/internal/domain/model"
	"app/internal/usecase"

	"go.uber.org/zap"
)

// リダイレクト＋コールバック型の決済ゲートウェイ。
// 署名はHMAC-SHA256（hex）。パラメータをキー昇順でk=v&...に並べて署名する。
type Client struct {
	baseURL       string
	returnURL     string
	secret        []byte
	webhookSecret []byte
	httpc         *http.Client
	logger        *zap.Logger
}

func NewClient(baseURL, returnURL, secret, webhookSecret string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		returnURL:     returnURL,
		secret:        []byte(secret),
		webhookSecret: []byte(webhookSecret),
		httpc:         &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
	}
}

// 決済ページへのリダイレクトURL。同じ入力からは同じURLができる。
func (c *Client) BuildRedirectURL(ctx context.Context, p model.Payment) (string, error) {
	if p.TransactionCode == nil || *p.TransactionCode == "" {
		return "", fmt.Errorf("gateway: transaction code not assigned")
	}

	params := map[string]string{
		"txn_ref":    *p.TransactionCode,
		"amount":     strconv.FormatInt(p.Amount, 10),
		"order_ref":  strconv.FormatInt(p.OrderID, 10),
		"return_url": c.returnURL,
	}
	sig := c.sign(c.secret, params)

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("signature", sig)

	return c.baseURL + "/pay?" + q.Encode(), nil
}

// ブラウザ経由のコールバックを検証して内部表現に写す。
func (c *Client) VerifyCallback(ctx context.Context, params map[string]string) (usecase.GatewayResult, error) {
	sig := params["signature"]
	if sig == "" {
		return usecase.GatewayResult{}, &usecase.GatewayAuthenticityError{Reason: "signature missing"}
	}

	signed := make(map[string]string, len(params))
	for k, v := range params {
		if k == "signature" {
			continue
		}
		signed[k] = v
	}

	expected := c.sign(c.secret, signed)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return usecase.GatewayResult{}, &usecase.GatewayAuthenticityError{Reason: "signature mismatch"}
	}

	txnRef := params["txn_ref"]
	if txnRef == "" {
		return usecase.GatewayResult{}, &usecase.GatewayAuthenticityError{Reason: "txn_ref missing"}
	}

	//レスポンスコード"00"だけが成功
	status := usecase.GatewayStatusFailed
	if params["resp_code"] == "00" {
		status = usecase.GatewayStatusSuccess
	}

	return usecase.GatewayResult{
		TransactionCode: txnRef,
		Status:          status,
		Reason:          params["resp_message"],
	}, nil
}

// webhookのトークン検証。token = HMAC(webhookSecret, transactionId + "." + status)
// 長さ比較ではなく定数時間比較で行う。
func (c *Client) VerifyWebhook(ctx context.Context, payload usecase.WebhookPayload) (usecase.GatewayResult, error) {
	if payload.TransactionID == "" {
		return usecase.GatewayResult{}, &usecase.GatewayAuthenticityError{Reason: "transactionId missing"}
	}

	var status usecase.GatewayStatus
	switch payload.Status {
	case "success":
		status = usecase.GatewayStatusSuccess
	case "failed":
		status = usecase.GatewayStatusFailed
	default:
		return usecase.GatewayResult{}, &usecase.GatewayAuthenticityError{Reason: "unknown status: " + payload.Status}
	}

	mac := hmac.New(sha256.New, c.webhookSecret)
	mac.Write([]byte(payload.TransactionID + "." + payload.Status))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(payload.Token)) {
		return usecase.GatewayResult{}, &usecase.GatewayAuthenticityError{Reason: "token mismatch"}
	}

	return usecase.GatewayResult{
		TransactionCode: payload.TransactionID,
		Status:          status,
		Reason:          payload.Reason,
	}, nil
}

type statusResponse struct {
	TxnRef  string `json:"txn_ref"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ゲートウェイへの同期照会。ロックを持ったまま呼ばないこと。
func (c *Client) CheckStatus(ctx context.Context, transactionCode string) (usecase.GatewayResult, error) {
	params := map[string]string{"txn_ref": transactionCode}
	sig := c.sign(c.secret, params)

	q := url.Values{}
	q.Set("txn_ref", transactionCode)
	q.Set("signature", sig)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status?"+q.Encode(), nil)
	if err != nil {
		return usecase.GatewayResult{}, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return usecase.GatewayResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return usecase.GatewayResult{}, fmt.Errorf("gateway: status poll returned %d", resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return usecase.GatewayResult{}, err
	}

	var status usecase.GatewayStatus
	switch body.Status {
	case "success":
		status = usecase.GatewayStatusSuccess
	case "failed":
		status = usecase.GatewayStatusFailed
	default:
		status = usecase.GatewayStatusPending
	}

	c.logger.Debug("gateway status polled",
		zap.String("txn_ref", transactionCode),
		zap.String("status", body.Status),
	)

	return usecase.GatewayResult{
		TransactionCode: body.TxnRef,
		Status:          status,
		Reason:          body.Message,
	}, nil
}

// キー昇順のk=v&...をHMAC-SHA256で署名してhexで返す
func (c *Client) sign(secret []byte, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}
