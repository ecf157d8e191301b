package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutboundRoundTrip(t *testing.T) {
	req := OutboundRequest{
		ID:     7,
		Method: "GET_BALANCE",
		Params: []json.RawMessage{json.RawMessage(`"0xabc"`)},
	}
	data, err := EncodeOutbound(req)
	require.NoError(t, err)

	decoded, ok := DecodeOutbound(data)
	require.True(t, ok)
	require.Equal(t, int64(7), decoded.ID)
	require.Equal(t, "GET_BALANCE", decoded.Method)
	require.Len(t, decoded.Params, 1)
	require.JSONEq(t, `"0xabc"`, string(decoded.Params[0]))
}

func TestDecodeOutboundRejectsNonMatches(t *testing.T) {
	cases := map[string]string{
		"not json":    `{{{`,
		"wrong tag":   `{"tag":"provider-response","id":1,"method":"X"}`,
		"missing id":  `{"tag":"provider-request","method":"X"}`,
		"no method":   `{"tag":"provider-request","id":1}`,
		"plain value": `42`,
		"unrelated":   `{"type":"analytics","payload":"spam"}`,
	}
	for name, raw := range cases {
		_, ok := DecodeOutbound([]byte(raw))
		require.False(t, ok, "case %s should not decode", name)
	}
}

func TestInboundValueAndError(t *testing.T) {
	data, err := EncodeInbound(3, json.RawMessage(`{"balance":"100"}`))
	require.NoError(t, err)
	resp, ok := DecodeInbound(data)
	require.True(t, ok)
	require.Equal(t, int64(3), resp.ID)
	require.False(t, resp.Outcome.IsErr())
	require.JSONEq(t, `{"balance":"100"}`, string(resp.Outcome.Value))

	data, err = EncodeInboundError(4, "No wallet found")
	require.NoError(t, err)
	resp, ok = DecodeInbound(data)
	require.True(t, ok)
	require.Equal(t, int64(4), resp.ID)
	require.True(t, resp.Outcome.IsErr())
	require.Equal(t, "No wallet found", resp.Outcome.Err)
}

func TestDecodeInboundRejectsNonMatches(t *testing.T) {
	cases := map[string]string{
		"wrong tag":  `{"tag":"provider-request","id":1,"result":true}`,
		"missing id": `{"tag":"provider-response","result":true}`,
		"not json":   `not-json`,
	}
	for name, raw := range cases {
		_, ok := DecodeInbound([]byte(raw))
		require.False(t, ok, "case %s should not decode", name)
	}
}

func TestInboundNullResult(t *testing.T) {
	data, err := EncodeInbound(9, nil)
	require.NoError(t, err)
	resp, ok := DecodeInbound(data)
	require.True(t, ok)
	require.False(t, resp.Outcome.IsErr())
	require.JSONEq(t, `null`, string(resp.Outcome.Value))
}
