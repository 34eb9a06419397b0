package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheEligibleAcceptsPlain200(t *testing.T) {
	assert.True(t, cacheEligible([]byte("HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\n")))
}

func TestCacheEligibleRejectsNon200(t *testing.T) {
	assert.False(t, cacheEligible([]byte("HTTP/1.1 404 Not Found\r\n\r\n")))
}

func TestCacheEligibleRejectsSubstringFalsePositive(t *testing.T) {
	// "200 OK" appears in a header value, not the status line; a naive
	// substring search would wrongly treat this as cacheable.
	assert.False(t, cacheEligible([]byte("HTTP/1.1 404 Not Found\r\nX-Note: was 200 OK before\r\n\r\n")))
}

func TestCacheEligibleRejectsChunked(t *testing.T) {
	assert.False(t, cacheEligible([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n")))
}
