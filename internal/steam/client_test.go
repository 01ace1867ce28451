package steam

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	appListURL    = "https://api.steampowered.com/ISteamApps/GetAppList/v2/"
	dotaDetailURL = "https://store.steampowered.com/api/appdetails?appids=570&l=english"
)

const dotaDetailBody = `{
  "570": {
    "success": true,
    "data": {
      "type": "game",
      "name": "Dota 2",
      "supported_languages": "English<strong>*</strong>, Simplified Chinese, Traditional Chinese",
      "categories": [
        {"id": 2, "description": "Single-player"},
        {"id": 29, "description": "Steam Trading Cards"}
      ]
    }
  }
}`

// testClient returns a client with near-zero pacing so tests stay fast.
func testClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient(Config{
		Timeout:     2 * time.Second,
		PacingDelay: 100 * time.Microsecond,
		MaxRetries:  3,
	}, nil)
	t.Cleanup(c.Close)

	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestClient_PacingDelayThrottles(t *testing.T) {
	c := NewClient(Config{PacingDelay: 30 * time.Millisecond}, nil)
	t.Cleanup(c.Close)
	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder("GET", appListURL,
		httpmock.NewStringResponder(http.StatusOK, `{"applist":{"apps":[]}}`))

	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err := c.GetAppList(context.Background())
		require.NoError(t, err)
	}

	// Two requests cannot complete inside a single pacing interval.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestGetAppList_Success(t *testing.T) {
	c := testClient(t)
	httpmock.RegisterResponder("GET", appListURL,
		httpmock.NewStringResponder(http.StatusOK,
			`{"applist":{"apps":[{"appid":570,"name":"Dota 2"},{"appid":730,"name":"Counter-Strike 2"}]}}`))

	apps, err := c.GetAppList(context.Background())

	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, 570, apps[0].ID)
	assert.Equal(t, "Dota 2", apps[0].Name)
}

func TestGetAppList_ServerErrorRetriedThenSurfaced(t *testing.T) {
	c := testClient(t)
	httpmock.RegisterResponder("GET", appListURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	_, err := c.GetAppList(context.Background())

	require.Error(t, err)
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
	assert.True(t, Transient(err))
}

func TestGetAppDetails_Success(t *testing.T) {
	c := testClient(t)
	httpmock.RegisterResponder("GET", dotaDetailURL,
		httpmock.NewStringResponder(http.StatusOK, dotaDetailBody))

	details, err := c.GetAppDetails(context.Background(), 570)

	require.NoError(t, err)
	assert.Equal(t, "game", details.Type)
	assert.Equal(t, "Dota 2", details.Name)
	assert.Contains(t, details.SupportedLanguages, "Simplified Chinese")
	require.Len(t, details.Categories, 2)
	assert.Equal(t, 29, details.Categories[1].ID)
}

func TestGetAppDetails_CachedWithinRun(t *testing.T) {
	c := testClient(t)
	httpmock.RegisterResponder("GET", dotaDetailURL,
		httpmock.NewStringResponder(http.StatusOK, dotaDetailBody))

	_, err := c.GetAppDetails(context.Background(), 570)
	require.NoError(t, err)
	_, err = c.GetAppDetails(context.Background(), 570)
	require.NoError(t, err)

	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestGetAppDetails_NotFoundIsTerminal(t *testing.T) {
	c := testClient(t)
	httpmock.RegisterResponder("GET",
		"https://store.steampowered.com/api/appdetails?appids=12345&l=english",
		httpmock.NewStringResponder(http.StatusNotFound, "not found"))

	_, err := c.GetAppDetails(context.Background(), 12345)

	require.ErrorIs(t, err, ErrAppUnavailable)
	assert.False(t, Transient(err))
	// Terminal statuses are not retried.
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestGetAppDetails_SuccessFalseIsTerminal(t *testing.T) {
	c := testClient(t)
	httpmock.RegisterResponder("GET", dotaDetailURL,
		httpmock.NewStringResponder(http.StatusOK, `{"570":{"success":false}}`))

	_, err := c.GetAppDetails(context.Background(), 570)

	require.ErrorIs(t, err, ErrAppUnavailable)
}

func TestGetAppDetails_MalformedBodyIsTerminal(t *testing.T) {
	c := testClient(t)
	httpmock.RegisterResponder("GET", dotaDetailURL,
		httpmock.NewStringResponder(http.StatusOK, `{broken json`))

	_, err := c.GetAppDetails(context.Background(), 570)

	require.ErrorIs(t, err, ErrAppUnavailable)
	assert.False(t, Transient(err))
}

func TestGetAppDetails_RateLimitedThenRecovers(t *testing.T) {
	c := testClient(t)

	limited := httpmock.NewStringResponse(http.StatusTooManyRequests, "slow down")
	limited.Header.Set("Retry-After", "0")
	ok := httpmock.NewStringResponse(http.StatusOK, dotaDetailBody)
	httpmock.RegisterResponder("GET", dotaDetailURL,
		httpmock.ResponderFromMultipleResponses([]*http.Response{limited, ok}))

	details, err := c.GetAppDetails(context.Background(), 570)

	require.NoError(t, err)
	assert.Equal(t, "Dota 2", details.Name)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestGetAppDetails_TransportFailureIsTransient(t *testing.T) {
	c := testClient(t)
	httpmock.RegisterResponder("GET", dotaDetailURL,
		httpmock.NewErrorResponder(errors.New("connection timed out")))

	_, err := c.GetAppDetails(context.Background(), 570)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAppUnavailable)
	assert.True(t, Transient(err))
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", ErrAppUnavailable, false},
		{"rate_limit", &RateLimitError{}, true},
		{"server_error", &StatusError{Code: 503}, true},
		{"client_error", &StatusError{Code: 400}, false},
		{"too_many_requests", &StatusError{Code: 429}, true},
		{"plain_transport", errors.New("broken pipe"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transient(tt.err))
		})
	}
}

func TestRetryAfter(t *testing.T) {
	resp := httpmock.NewStringResponse(http.StatusTooManyRequests, "")
	resp.Header.Set("Retry-After", "7")
	assert.Equal(t, 7*time.Second, retryAfter(resp))

	resp.Header.Set("Retry-After", "soon")
	assert.Equal(t, time.Duration(0), retryAfter(resp))

	resp.Header.Del("Retry-After")
	assert.Equal(t, time.Duration(0), retryAfter(resp))
}
