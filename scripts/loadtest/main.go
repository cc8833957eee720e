// Script loadtest benchmarks document submission throughput.
// It submits a batch of documents through the API, each with a small
// extraction spec and render template, and reports submission rate. Every
// submission fans out into an extraction and a generation stage, so the
// worker-side load is twice the submission count.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultDocumentCount = 10000
	defaultConcurrency   = 100
	maxHTTPRetries       = 3
)

const specJSON = `{
	"type": "object",
	"required": ["invoice_number", "total"],
	"properties": {
		"invoice_number": {"type": "string"},
		"total": {"type": "number"},
		"currency": {"type": "string"}
	}
}`

const templateHTML = `<html><body>
<h1>Invoice {{invoice_number}}</h1>
<p>Total: {{total}} {{currency}}</p>
</body></html>`

func main() {
	apiURL := getEnv("API_URL", "http://localhost:8080")
	documentCount := getEnvInt("DOCUMENT_COUNT", defaultDocumentCount)
	concurrency := getEnvInt("CONCURRENCY", defaultConcurrency)

	fmt.Printf("=== Document Pipeline — Submission Load Test ===\n")
	fmt.Printf("Target:          %s\n", apiURL)
	fmt.Printf("Total Documents: %d\n", documentCount)
	fmt.Printf("Concurrency:     %d\n\n", concurrency)

	ctx := context.Background()
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			MaxConnsPerHost:     concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	var (
		submitSuccess int64
		submitFail    int64
		rateLimited   int64
		httpRetries   int64
		wg            sync.WaitGroup
		sem           = make(chan struct{}, concurrency)
	)

	makeBody := func(idx int) (*bytes.Buffer, string) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		w.WriteField("owner", fmt.Sprintf("loadtest-%d", idx%20))
		doc, _ := w.CreateFormFile("document", "invoice.pdf")
		fmt.Fprintf(doc, "%%PDF-1.4 synthetic invoice %d for load testing", idx)
		spec, _ := w.CreateFormFile("spec", "spec.json")
		spec.Write([]byte(specJSON))
		tmpl, _ := w.CreateFormFile("template", "template.html")
		tmpl.Write([]byte(templateHTML))
		w.Close()
		return &buf, w.FormDataContentType()
	}

	start := time.Now()

	for i := 0; i < documentCount; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			var lastErr error
			for attempt := 0; attempt <= maxHTTPRetries; attempt++ {
				if attempt > 0 {
					atomic.AddInt64(&httpRetries, 1)
					time.Sleep(time.Duration(attempt*50) * time.Millisecond)
				}

				body, contentType := makeBody(idx)
				req, err := http.NewRequestWithContext(ctx, "POST", apiURL+"/api/v1/documents", body)
				if err != nil {
					lastErr = err
					continue
				}
				req.Header.Set("Content-Type", contentType)

				resp, err := client.Do(req)
				if err != nil {
					lastErr = err
					continue
				}

				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				if resp.StatusCode == http.StatusCreated {
					atomic.AddInt64(&submitSuccess, 1)
					lastErr = nil
					break
				}

				// The upload limiter pushing back is expected under load.
				if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
					if resp.StatusCode == http.StatusTooManyRequests {
						atomic.AddInt64(&rateLimited, 1)
					}
					lastErr = fmt.Errorf("status %d", resp.StatusCode)
					continue
				}

				lastErr = fmt.Errorf("status %d", resp.StatusCode)
				break
			}

			if lastErr != nil {
				atomic.AddInt64(&submitFail, 1)
			}

			count := atomic.LoadInt64(&submitSuccess) + atomic.LoadInt64(&submitFail)
			if count%1000 == 0 {
				elapsed := time.Since(start)
				rate := float64(count) / elapsed.Seconds() * 60
				fmt.Printf("  Progress: %d/%d documents submitted (%.0f docs/min)\n", count, documentCount, rate)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("\n=== Submission Results ===\n")
	fmt.Printf("Duration:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Jobs Created:    %d / %d\n", submitSuccess, documentCount)
	fmt.Printf("Submit Failures: %d\n", submitFail)
	fmt.Printf("Rate Limited:    %d (retried)\n", rateLimited)
	fmt.Printf("HTTP Retries:    %d\n", httpRetries)
	fmt.Printf("Submit Rate:     %.0f docs/min\n", float64(submitSuccess)/elapsed.Seconds()*60)

	fmt.Printf("\n--- What to watch in Grafana ---\n")
	fmt.Printf("1. Queue Depths:     extract spikes first, generate spikes as jobs advance\n")
	fmt.Printf("2. Stage Attempts:   extraction and generation waves over time\n")
	fmt.Printf("3. Stage Latency:    extraction dominated by the model call\n")
	fmt.Printf("4. Retries / DLQ:    poison and exhausted jobs surfacing under stress\n")

	if submitFail > 0 {
		fmt.Printf("\nWARNING: %d documents failed to submit\n", submitFail)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}
