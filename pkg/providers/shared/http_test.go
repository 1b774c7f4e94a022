package shared

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHTTPClientVerifiesTLS(t *testing.T) {
	c := DefaultHTTPClient()
	assert.Equal(t, 10*time.Second, c.Timeout)

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	if tr.TLSClientConfig != nil {
		assert.False(t, tr.TLSClientConfig.InsecureSkipVerify)
	}
	assert.NotNil(t, tr.Proxy)
}
