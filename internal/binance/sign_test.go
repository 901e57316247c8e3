package binance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	docsSecret = "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	docsQuery  = "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	docsSig    = "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
)

func docsParams() *Params {
	return NewParams().
		Set("symbol", "LTCBTC").
		Set("side", "BUY").
		Set("type", "LIMIT").
		Set("timeInForce", "GTC").
		Set("quantity", "1").
		Set("price", "0.1").
		Set("recvWindow", "5000").
		SetInt("timestamp", 1499827319559)
}

func TestParamsEncodePreservesInsertionOrder(t *testing.T) {
	require.Equal(t, docsQuery, docsParams().Encode())
}

func TestParamsResetKeepsPosition(t *testing.T) {
	p := NewParams().Set("b", "1").Set("a", "2").Set("b", "3")
	require.Equal(t, "b=3&a=2", p.Encode())
	require.Equal(t, 2, p.Len())
}

func TestParamsNoEscaping(t *testing.T) {
	p := NewParams().Set("symbol", "BTC/USDT").Set("note", "a b")
	require.Equal(t, "symbol=BTC/USDT&note=a b", p.Encode())
}

func TestParamsMergeAndOptional(t *testing.T) {
	p := NewParams().Set("symbol", "BTCUSDT").SetIfNotEmpty("origClientOrderId", "")
	p.Merge(NewParams().Set("limit", "10")).Merge(nil)
	require.Equal(t, "symbol=BTCUSDT&limit=10", p.Encode())
	var empty *Params
	require.Equal(t, 0, empty.Len())
	require.Equal(t, "", empty.Encode())
}

func TestSignerMatchesPublishedVector(t *testing.T) {
	s := NewSigner(docsSecret)
	require.Equal(t, docsSig, s.Sign(docsQuery))
}

func TestSignedQueryAppendsSignatureLast(t *testing.T) {
	s := NewSigner(docsSecret)
	q := s.SignedQuery(docsParams())
	if !strings.HasPrefix(q, docsQuery+"&signature=") {
		t.Fatalf("signature must follow the canonical payload: %s", q)
	}
	require.True(t, strings.HasSuffix(q, docsSig))
	require.Equal(t, "", s.SignedQuery(NewParams()))
}
