package ssrf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPublicAddr(t *testing.T) {
	assert := assert.New(t)

	for addr, public := range map[string]bool{
		"8.8.8.8":          true,
		"162.159.128.233":  true,
		"10.1.2.3":         false,
		"127.0.0.1":        false,
		"169.254.169.254":  false,
		"192.168.1.1":      false,
		"100.64.0.1":       false,
		"255.255.255.255":  false,
		"::ffff:127.0.0.1": false,
		"::1":              false,
		"fe80::1":          false,
		"fd00::1":          false,
		"2606:4700::1111":  true,
	} {
		assert.Equal(public, IsPublicAddr(netip.MustParseAddr(addr)), addr)
	}
}

func TestControl(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(Control("tcp4", "8.8.8.8:443", nil))
	assert.NoError(Control("tcp6", "[2606:4700::1111]:80", nil))
	assert.Error(Control("udp4", "8.8.8.8:443", nil))
	assert.Error(Control("tcp4", "8.8.8.8:8080", nil))
	assert.Error(Control("tcp4", "127.0.0.1:443", nil))
	assert.Error(Control("tcp4", "not-an-address", nil))
}

func TestPublicOnlyTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secret"))
	}))
	defer srv.Close()

	client := &http.Client{Transport: PublicOnlyTransport()}
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	_, err := client.Do(req)
	assert.Error(t, err)
}
