package relay

import (
	"testing"

	"github.com/rzbill/tether/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyPolicyAllowsAll(t *testing.T) {
	p, err := CompilePolicy("  ")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.True(t, p.Allow("POST", "/x", "t1", nil, nil))
	assert.Equal(t, "", p.String())
}

func TestPolicyEvaluatesRequestFields(t *testing.T) {
	p, err := CompilePolicy(`method != "DELETE" && tenant != "blocked" && (size == 0 || json.customer != "bot") && !("X-No-Queue" in headers)`)
	require.NoError(t, err)

	assert.True(t, p.Allow("POST", "/api/bookings", "t1", map[string]string{"Content-Type": "application/json"}, []byte(`{"customer":"Jane"}`)))
	assert.True(t, p.Allow("PUT", "/api/bookings/1", "t1", nil, nil))
	assert.False(t, p.Allow("DELETE", "/api/bookings/1", "t1", nil, nil))
	assert.False(t, p.Allow("POST", "/api/bookings", "blocked", nil, nil))
	assert.False(t, p.Allow("POST", "/api/bookings", "t1", nil, []byte(`{"customer":"bot"}`)))
	assert.False(t, p.Allow("POST", "/api/bookings", "t1", map[string]string{"X-No-Queue": "1"}, nil))
}

func TestPolicyEvalErrorDenies(t *testing.T) {
	p, err := CompilePolicy(`json.missing.deeper == 1`)
	require.NoError(t, err)
	assert.False(t, p.Allow("POST", "/x", "t1", nil, []byte(`{}`)))
}

func TestPolicyCompileErrors(t *testing.T) {
	_, err := CompilePolicy(`method ==`)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrInvalid))

	_, err = CompilePolicy(`size + 1`)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrInvalid))
}
