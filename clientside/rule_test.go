package clientside

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRulePlainHosts(t *testing.T) {
	r, err := ParseRule("0.0.0.0:9000:127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", r.BindHost)
	assert.Equal(t, uint16(9000), r.BindPort)
	assert.Equal(t, "127.0.0.1", r.LocalHost)
	assert.Equal(t, uint16(8080), r.LocalPort)
}

func TestParseRuleBracketedIPv6Hosts(t *testing.T) {
	r, err := ParseRule("[::]:9000:[::1]:8080")
	require.NoError(t, err)
	assert.Equal(t, "::", r.BindHost)
	assert.Equal(t, uint16(9000), r.BindPort)
	assert.Equal(t, "::1", r.LocalHost)
	assert.Equal(t, uint16(8080), r.LocalPort)
}

func TestParseRuleMixedBracketing(t *testing.T) {
	r, err := ParseRule("example.com:443:[2001:db8::1]:80")
	require.NoError(t, err)
	assert.Equal(t, "example.com", r.BindHost)
	assert.Equal(t, uint16(443), r.BindPort)
	assert.Equal(t, "2001:db8::1", r.LocalHost)
	assert.Equal(t, uint16(80), r.LocalPort)
}

func TestParseRuleRejectsMalformed(t *testing.T) {
	_, err := ParseRule("not-enough-fields")
	assert.Error(t, err)

	_, err = ParseRule("host:notaport:127.0.0.1:80")
	assert.Error(t, err)
}

func TestRuleAddrHelpers(t *testing.T) {
	r, err := ParseRule("[::1]:9000:127.0.0.1:80")
	require.NoError(t, err)
	assert.Equal(t, "[::1]:9000", r.BindAddr())
	assert.Equal(t, "127.0.0.1:80", r.LocalAddr())
}
