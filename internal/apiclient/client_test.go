package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Slussen","id":9192}`))
	}))
	defer srv.Close()

	var out struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
	}
	err := GetJSON(context.Background(), NewHTTPClient(0), srv.URL, &out)
	require.NoError(t, err)
	assert.Equal(t, "Slussen", out.Name)
	assert.Equal(t, 9192, out.ID)
}

func TestGetJSON_HTTPErrorRedactsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var out map[string]any
	err := GetJSON(context.Background(), nil, srv.URL+"/trip?key=secret123&originId=1", &out)
	require.Error(t, err)

	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusTooManyRequests, he.StatusCode)
	assert.Equal(t, "quota exceeded", he.Body)
	assert.NotContains(t, he.Error(), "secret123")
	assert.Contains(t, he.URL, "originId=1")
}

func TestGetJSON_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	var out map[string]any
	err := GetJSON(context.Background(), nil, srv.URL, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode json")
}

func TestGetBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0x0a, 0x02})
	}))
	defer srv.Close()

	b, err := GetBytes(context.Background(), nil, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x02}, b)
}

func TestNewHTTPClient_Bearer(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(0, WithBearer(func() string { return "tok" }), WithHeader("X-Extra", "1"))
	var out map[string]any
	require.NoError(t, GetJSON(context.Background(), client, srv.URL, &out))
	assert.Equal(t, "Bearer tok", got)
}

func TestRedact(t *testing.T) {
	u, _ := url.Parse("https://api.resrobot.se/v2.1/trip?accessId=abc&originId=740000001")
	r := Redact(u)
	assert.False(t, strings.Contains(r, "abc"))
	assert.Contains(t, r, "originId=740000001")

	assert.Equal(t, "https://x.example/a", RedactString("https://x.example/a"))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", MaskKey("abcd"))
	assert.Equal(t, "", MaskKey(""))
}
