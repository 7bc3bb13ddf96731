package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cberranger/local-deep-research/internal/common"
)

// validationPage is a minimal interactive page used to prove the browser
// automation stack works before any real suite runs against the application.
const validationPage = `<!DOCTYPE html>
<html>
<head><title>Harness Validation</title></head>
<body>
    <h1 id="test-title">Browser Automation Check</h1>
    <p id="test-message">If you can see this, browser automation is working.</p>
    <button id="test-button">Click Me</button>
    <div id="test-output"></div>
    <script>
        document.getElementById('test-button').addEventListener('click', function() {
            document.getElementById('test-output').textContent = 'Button clicked!';
        });
    </script>
</body>
</html>`

// StartTestServer serves the validation page and a status endpoint on the
// given port. The caller owns shutdown.
func StartTestServer(port int) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, validationPage)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","server":"validation","version":%q,"timestamp":%q}`,
			common.GetFullVersion(), time.Now().Format(time.RFC3339))
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Validation server error: %v\n", err)
		}
	}()

	return srv
}
