// SPDX-License-Identifier: MIT

package vast

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

const fetchUserAgent = "vastkit/1.0"

// Fetch retrieves a VAST document over HTTP and parses it. The fetch
// is a single attempt: a tag that cannot be loaded means there is no
// ad to play, and that failure belongs to the caller, unlike beacon
// delivery which retries quietly.
func Fetch(ctx context.Context, client *http.Client, tagURL string) (*AdCreative, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tagURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build VAST request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch VAST tag: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch VAST tag: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVASTBytes))
	if err != nil {
		return nil, fmt.Errorf("read VAST response: %w", err)
	}
	return Parse(string(body)), nil
}
