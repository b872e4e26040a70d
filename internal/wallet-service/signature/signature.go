package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingHeader = errors.New("missing signature header")
	ErrExpired       = errors.New("timestamp outside allowed window")
	ErrBadSignature  = errors.New("signature mismatch")
)

// Cabeçalhos assinados pelo agregador. X-Sign nunca entra na string canônica.
const (
	HeaderMerchantID = "X-Merchant-Id"
	HeaderNonce      = "X-Nonce"
	HeaderTimestamp  = "X-Timestamp"
	HeaderSign       = "X-Sign"
)

// AggregatorVerifier valida callbacks assinados do agregador de jogos.
// Verificador puro: não guarda estado e não muta nada.
type AggregatorVerifier struct {
	MerchantID string
	Secret     string
	Skew       time.Duration // janela aceita em torno de time.Now para X-Timestamp

	// Now permite injetar relógio em teste; nil usa time.Now
	Now func() time.Time
}

// CanonicalString monta a string assinada: campos do corpo mesclados com os
// três cabeçalhos (exceto X-Sign), chaves ordenadas por valor de byte e
// concatenadas como "k=v" com "&".
//
// Regra de serialização de valores (precisa casar com o agregador):
//   - string: literal, sem aspas
//   - json.Number: literal como veio no corpo (decodificar com UseNumber)
//   - bool: "true"/"false"; nil: vazio
//   - array/objeto: JSON compacto re-codificado
func CanonicalString(body map[string]any, merchantID, nonce, timestamp string) string {
	merged := make(map[string]string, len(body)+3)
	for k, v := range body {
		merged[k] = canonicalValue(v)
	}
	merged[HeaderMerchantID] = merchantID
	merged[HeaderNonce] = nonce
	merged[HeaderTimestamp] = timestamp

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(merged[k])
	}
	return b.String()
}

func canonicalValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		// arrays/objetos aninhados: JSON compacto
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Verify valida o conjunto cabeçalhos+corpo de um callback.
// headers carrega os valores crus de X-Merchant-Id, X-Nonce, X-Timestamp e X-Sign.
func (v *AggregatorVerifier) Verify(headers map[string]string, body map[string]any) error {
	sign := headers[HeaderSign]
	ts := headers[HeaderTimestamp]
	if sign == "" || ts == "" {
		return ErrMissingHeader
	}

	// X-Timestamp em segundos Unix, janela +-Skew
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrExpired
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	drift := now().Unix() - sec
	if drift < 0 {
		drift = -drift
	}
	if time.Duration(drift)*time.Second > v.Skew {
		return ErrExpired
	}

	payload := CanonicalString(body, headers[HeaderMerchantID], headers[HeaderNonce], ts)
	mac := hmac.New(sha1.New, []byte(v.Secret))
	mac.Write([]byte(payload))
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(strings.ToLower(sign))
	if err != nil {
		return ErrBadSignature
	}
	// comparação em tempo constante sobre os digests decodificados
	if !hmac.Equal(expected, got) {
		return ErrBadSignature
	}
	return nil
}

// ProcessorVerifier valida webhooks IPN do processador de pagamentos.
// A assinatura é HMAC-SHA512 sobre os bytes exatos do corpo da requisição.
type ProcessorVerifier struct {
	Secret string
}

func (v *ProcessorVerifier) Verify(sig string, rawBody []byte) error {
	if sig == "" {
		return ErrMissingHeader
	}
	mac := hmac.New(sha512.New, []byte(v.Secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(expected, got) {
		return ErrBadSignature
	}
	return nil
}
