// Package web serves the landing page and favicon for the trust-evaluation
// service, adapted from mroxso-wotrlay's web.go: same favicon generation (a
// plain image/png-encoded bitmap, no static asset pipeline) and the same
// pre-rendered-at-startup HTML page approach, repurposed from a relay's
// NIP-11 welcome page to a summary of what this service publishes and how
// to query it.
package web

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
)

// Info is the subset of the service's identity the landing page describes.
type Info struct {
	Name             string
	AlgorithmVersion string
	AlgorithmURL     string
	TrackedRelays    int
	PublishedAssertions int
}

func generateFavicon() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))

	bgColor := color.RGBA{39, 62, 96, 255}
	for y := range 16 {
		for x := range 16 {
			img.Set(x, y, bgColor)
		}
	}

	// A simple checkmark-in-shield glyph: two diagonal strokes meeting
	// near the bottom center.
	markColor := color.RGBA{255, 255, 255, 255}
	positions := []struct{ x, y int }{
		{4, 7}, {5, 8}, {6, 9}, {7, 10},
		{8, 9}, {9, 8}, {10, 7}, {11, 6}, {12, 5},
	}
	for _, pos := range positions {
		img.Set(pos.x, pos.y, markColor)
	}

	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

// ServeFavicon returns a handler for /favicon.ico.
func ServeFavicon() http.HandlerFunc {
	favicon := generateFavicon()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.WriteHeader(http.StatusOK)
		w.Write(favicon)
	}
}

// ServeLandingPage returns a handler for the root path, describing the
// service and its read API.
func ServeLandingPage(info Info) http.HandlerFunc {
	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>` + info.Name + ` - Relay Trust Evaluation</title>
    <link rel="icon" type="image/png" href="/favicon.ico">
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            max-width: 800px;
            margin: 50px auto;
            padding: 20px;
            background: #f5f5f5;
            color: #333;
        }
        .container {
            background: white;
            padding: 30px;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        h1 { color: #2c3e50; margin-top: 0; }
        .info-section { margin: 20px 0; }
        .info-label { font-weight: bold; color: #555; }
        .description { line-height: 1.6; color: #666; }
        table { border-collapse: collapse; width: 100%; }
        td, th { text-align: left; padding: 6px 10px; border-bottom: 1px solid #eee; }
        code { background: #f0f0f0; padding: 2px 6px; border-radius: 3px; }
        .footer {
            margin-top: 30px;
            padding-top: 20px;
            border-top: 1px solid #eee;
            font-size: 14px;
            color: #888;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>` + info.Name + `</h1>
        <div class="info-section">
            <p class="description">This service continuously probes public Nostr relays, aggregates
            monitor and report observations, and publishes signed trust assertions describing each
            relay's reliability, quality, accessibility, and operator trust.</p>
        </div>
        <div class="info-section">
            <table>
                <tr><th>Algorithm version</th><td>` + info.AlgorithmVersion + `</td></tr>
                <tr><th>Algorithm details</th><td><a href="` + info.AlgorithmURL + `">` + info.AlgorithmURL + `</a></td></tr>
            </table>
        </div>
        <div class="info-section">
            <div class="info-label">Read API</div>
            <table>
                <tr><td><code>GET /relays</code></td><td>list tracked relay urls</td></tr>
                <tr><td><code>GET /relays/score?url=</code></td><td>latest score for one relay</td></tr>
                <tr><td><code>GET /relays/detail?url=</code></td><td>score, operator, and jurisdiction for one relay</td></tr>
                <tr><td><code>GET /relays/history?url=&days=</code></td><td>score history</td></tr>
                <tr><td><code>GET /relays/assertion?url=</code></td><td>most recently published assertion event</td></tr>
                <tr><td><code>GET /jurisdictions</code></td><td>jurisdiction summary for all relays</td></tr>
                <tr><td><code>GET /stats</code></td><td>aggregate statistics</td></tr>
                <tr><td><code>GET /rankings</code></td><td>relays ranked by overall score</td></tr>
                <tr><td><code>GET /analytics</code></td><td>per-relay trend and rolling-average data</td></tr>
            </table>
        </div>
        <div class="footer">
            <p>Trust assertions are signed Nostr events, replaceable per relay url.</p>
        </div>
    </div>
</body>
</html>`

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(html))
	}
}
