package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/filterx/internal/scan"
	"github.com/runnerr0/filterx/internal/storage"
)

const scanPage = `<html><head><title>Forum thread</title></head><body>
<article><p>This thread has turned into an nsfw mess with x-rated jokes everywhere,
so the moderators locked it until further notice. Please keep it civil.</p></article>
</body></html>`

func TestScan_PrintsReport(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, scanPage)
	}))
	defer site.Close()

	store := openTestStore(t)
	cmd := &ScanCommand{globals: &GlobalFlags{}}
	cmd.Args.URL = site.URL + "/thread/1"

	var err error
	output := captureOutput(t, func() {
		err = cmd.executeWithStore(context.Background(), localConfig(), store)
	})
	require.NoError(t, err)
	assert.Contains(t, output, "Scan of "+site.URL+"/thread/1")
	assert.Contains(t, output, "Page:    allow")
	assert.Contains(t, output, "Text:    blur (nsfw")
	assert.Contains(t, output, "Blocked: 0  Blurred: 1  Failed: 0")

	entries, err := store.ListActivity(context.Background(), storage.ActivityQuery{})
	require.NoError(t, err)
	actions := make([]string, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	assert.ElementsMatch(t, []string{"URL allowed", "Text blurred"}, actions)
}

func TestScan_BlockedPageJSON(t *testing.T) {
	cmd := &ScanCommand{globals: &GlobalFlags{JSON: true}}
	cmd.Args.URL = "http://127.0.0.1:1/porn/index.html"

	var err error
	output := captureOutput(t, func() {
		err = cmd.executeWithStore(context.Background(), localConfig(), openTestStore(t))
	})
	require.NoError(t, err)

	var out scan.Report
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.True(t, out.Skipped)
	assert.Equal(t, "url", out.Page.Kind)
	assert.Equal(t, 1, out.Blocked)
}

func TestScan_FetchErrorReturned(t *testing.T) {
	cmd := &ScanCommand{globals: &GlobalFlags{}}
	cmd.Args.URL = "http://127.0.0.1:1/fine"
	err := cmd.executeWithStore(context.Background(), localConfig(), openTestStore(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan failed")
}
