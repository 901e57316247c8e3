package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Params is an insertion-ordered parameter list. Binance validates signatures over the
// exact query bytes, so keys are emitted in the order they were first set and values are
// written verbatim.
type Params struct {
	keys   []string
	values map[string]string
}

// NewParams returns an empty parameter list.
func NewParams() *Params {
	return &Params{values: make(map[string]string)}
}

// Set stores a value. Re-setting a key keeps its original position.
func (p *Params) Set(key, value string) *Params {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// SetInt stores an integer value.
func (p *Params) SetInt(key string, value int64) *Params {
	return p.Set(key, strconv.FormatInt(value, 10))
}

// SetIfNotEmpty stores value only when it is non-empty.
func (p *Params) SetIfNotEmpty(key, value string) *Params {
	if value == "" {
		return p
	}
	return p.Set(key, value)
}

// Get returns the stored value for key.
func (p *Params) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.values[key]
	return v, ok
}

// Len reports the number of parameters.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Merge appends the entries of other in their order.
func (p *Params) Merge(other *Params) *Params {
	if other == nil {
		return p
	}
	for _, k := range other.keys {
		p.Set(k, other.values[k])
	}
	return p
}

// Encode joins parameters as k=v pairs separated by '&' without escaping or sorting.
func (p *Params) Encode() string {
	if p.Len() == 0 {
		return ""
	}
	var b strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.values[k])
	}
	return b.String()
}

// Signer computes HMAC-SHA256 signatures with the account secret.
type Signer struct {
	secret []byte
}

// NewSigner returns a signer for the secret key.
func NewSigner(secret string) Signer {
	return Signer{secret: []byte(secret)}
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func (s Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedQuery encodes p and appends the signature field. An empty parameter list is not signed.
func (s Signer) SignedQuery(p *Params) string {
	query := p.Encode()
	if query == "" {
		return ""
	}
	return query + "&signature=" + s.Sign(query)
}
