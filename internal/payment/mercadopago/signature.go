package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/tiendly/internal/payment/domain"
)

// VerifyWebhook validates MercadoPago's x-signature header: an HMAC
// over the manifest `id:{data.id};request-id:{x-request-id};ts:{ts};`
// keyed with the webhook secret. Every inbound notification must pass
// this check; there is no unauthenticated path.
func (p *Provider) VerifyWebhook(payload []byte, headers http.Header, query url.Values) error {
	if p.webhookSecret == "" {
		return domain.ErrInvalidSignature
	}

	sigHeader := strings.TrimSpace(headers.Get("x-signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}
	ts, signature, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	_, dataID := notificationKey(payload, query)
	requestID := strings.TrimSpace(headers.Get("x-request-id"))

	manifest := buildManifest(dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	_, _ = mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func buildManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		fmt.Fprintf(&b, "id:%s;", strings.ToLower(dataID))
	}
	if requestID != "" {
		fmt.Fprintf(&b, "request-id:%s;", requestID)
	}
	fmt.Fprintf(&b, "ts:%s;", ts)
	return b.String()
}

func parseSignatureHeader(header string) (ts, v1 string, err error) {
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		switch strings.TrimSpace(keyValue[0]) {
		case "ts":
			ts = strings.TrimSpace(keyValue[1])
		case "v1":
			v1 = strings.TrimSpace(keyValue[1])
		}
	}
	if ts == "" || v1 == "" {
		return "", "", errors.New("invalid_signature")
	}
	return ts, v1, nil
}
