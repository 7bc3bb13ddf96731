package mockapp

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJSON(resp *http.Response, out interface{}) error {
	return json.NewDecoder(resp.Body).Decode(out)
}

func newTestClient(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := httptest.NewServer(New(Options{ResearchDuration: 200 * time.Millisecond}).Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return srv, &http.Client{Jar: jar}
}

func registerAndLogin(t *testing.T, srv *httptest.Server, client *http.Client, username string) {
	t.Helper()

	resp, err := client.PostForm(srv.URL+"/auth/register", url.Values{
		"username":         {username},
		"password":         {"testpass123"},
		"confirm_password": {"testpass123"},
		"acknowledge":      {"yes"},
	})
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = client.PostForm(srv.URL+"/auth/login", url.Values{
		"username": {username},
		"password": {"testpass123"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "/", resp.Request.URL.Path, "login should land on the home page")
}

func TestUnauthenticatedRequestRedirectsToLogin(t *testing.T) {
	srv, client := newTestClient(t)

	resp, err := client.Get(srv.URL + "/history")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "/auth/login", resp.Request.URL.Path)
}

func TestLoginFormHasExpectedFields(t *testing.T) {
	srv, client := newTestClient(t)

	resp, err := client.Get(srv.URL + "/auth/login")
	require.NoError(t, err)
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, 1, doc.Find("#username").Length())
	assert.Equal(t, 1, doc.Find("#password").Length())
	assert.Equal(t, 1, doc.Find(`button[type="submit"]`).Length())
}

func TestRegisterFormHasConfirmationAndConsent(t *testing.T) {
	srv, client := newTestClient(t)

	resp, err := client.Get(srv.URL + "/auth/register")
	require.NoError(t, err)
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, 1, doc.Find("#confirm_password").Length())
	assert.Equal(t, 1, doc.Find("#acknowledge").Length())
}

func TestFailedLoginStaysOnLoginPage(t *testing.T) {
	srv, client := newTestClient(t)

	resp, err := client.PostForm(srv.URL+"/auth/login", url.Values{
		"username": {"nobody"},
		"password": {"wrong"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "/auth/login", resp.Request.URL.Path)
}

func TestResearchFlowCompletesThroughResults(t *testing.T) {
	srv, client := newTestClient(t)
	registerAndLogin(t, srv, client, "researcher")

	resp, err := client.PostForm(srv.URL+"/", url.Values{
		"query": {"What is 2+2?"},
		"mode":  {"quick"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.True(t, strings.HasPrefix(resp.Request.URL.Path, "/progress/"),
		"research submission should redirect to progress, got %s", resp.Request.URL.Path)
	progressURL := resp.Request.URL.String()

	// Poll until the progress surface reports completion.
	deadline := time.Now().Add(2 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		resp, err := client.Get(progressURL)
		require.NoError(t, err)
		doc, err := goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		status, _ = doc.Find(".progress-status").Attr("data-status")
		if status == "completed" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.Equal(t, "completed", status)

	resultsURL := strings.Replace(progressURL, "/progress/", "/results/", 1)
	resp, err = client.Get(resultsURL)
	require.NoError(t, err)
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, doc.Text(), "Research completed")
	assert.Contains(t, doc.Find("#report").Text(), "What is 2+2?")
}

func TestFailMarkerForcesFailedStatus(t *testing.T) {
	srv, client := newTestClient(t)
	registerAndLogin(t, srv, client, "failcase")

	resp, err := client.PostForm(srv.URL+"/", url.Values{
		"query": {"broken topic [fail]"},
		"mode":  {"quick"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)

	status, _ := doc.Find(".progress-status").Attr("data-status")
	assert.Equal(t, "failed", status)
	assert.Contains(t, doc.Text(), "An error occurred")
}

func TestEmptyQueryStaysOnHomePage(t *testing.T) {
	srv, client := newTestClient(t)
	registerAndLogin(t, srv, client, "emptyquery")

	resp, err := client.PostForm(srv.URL+"/", url.Values{"query": {"   "}})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "/", resp.Request.URL.Path)
}

func TestCollectionCreateThenList(t *testing.T) {
	srv, client := newTestClient(t)
	registerAndLogin(t, srv, client, "collector")

	resp, err := client.PostForm(srv.URL+"/collections", url.Values{
		"name": {"Test Collection abc123"},
	})
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = client.Get(srv.URL + "/collections")
	require.NoError(t, err)
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)

	found := false
	doc.Find(".collection-name").Each(func(_ int, sel *goquery.Selection) {
		if strings.TrimSpace(sel.Text()) == "Test Collection abc123" {
			found = true
		}
	})
	assert.True(t, found, "created collection should appear in the listing")
}

func TestHistoryAPIListsOwnResearchOnly(t *testing.T) {
	srv, client := newTestClient(t)
	registerAndLogin(t, srv, client, "historian")

	resp, err := client.PostForm(srv.URL+"/", url.Values{"query": {"history entry"}, "mode": {"quick"}})
	require.NoError(t, err)
	resp.Body.Close()

	var payload struct {
		Items []struct {
			ID     string `json:"id"`
			Query  string `json:"query"`
			Status string `json:"status"`
		} `json:"items"`
		TotalCount int `json:"total_count"`
	}
	resp, err = client.Get(srv.URL + "/history/api")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, decodeJSON(resp, &payload))

	require.Equal(t, 1, payload.TotalCount)
	assert.Equal(t, "history entry", payload.Items[0].Query)

	// A different user sees an empty history.
	srv2jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	other := &http.Client{Jar: srv2jar}
	registerAndLogin(t, srv, other, "someone-else")

	resp, err = other.Get(srv.URL + "/history/api")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, decodeJSON(resp, &payload))
	assert.Equal(t, 0, payload.TotalCount)
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, client := newTestClient(t)
	registerAndLogin(t, srv, client, "tuner")

	resp, err := client.PostForm(srv.URL+"/settings", url.Values{
		"llm.provider":   {"openai"},
		"context.window": {"16384"},
	})
	require.NoError(t, err)
	resp.Body.Close()

	var payload struct {
		Settings map[string]string `json:"settings"`
	}
	resp, err = client.Get(srv.URL + "/settings/api")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, decodeJSON(resp, &payload))

	assert.Equal(t, "openai", payload.Settings["llm.provider"])
	assert.Equal(t, "16384", payload.Settings["context.window"])
	assert.Equal(t, "auto", payload.Settings["search.engine"], "untouched settings keep defaults")
}

func TestAvailableSearchEnginesNonEmpty(t *testing.T) {
	srv, client := newTestClient(t)
	registerAndLogin(t, srv, client, "engines")

	var payload struct {
		Engines []string `json:"engines"`
	}
	resp, err := client.Get(srv.URL + "/settings/api/available-search-engines")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, decodeJSON(resp, &payload))

	assert.NotEmpty(t, payload.Engines)
	assert.Contains(t, payload.Engines, "auto")
}
