package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/mod/semver"
)

const maxReleaseBody = 4 << 20

// Release is the subset of a GitHub release the updater needs.
type Release struct {
	Tag         string
	Name        string
	PublishedAt time.Time
	Assets      []Asset
}

type Asset struct {
	Name string
	URL  string
	Size int64
}

// ZipAsset returns the first .zip asset.
func (r *Release) ZipAsset() (Asset, bool) {
	for _, a := range r.Assets {
		if strings.HasSuffix(strings.ToLower(a.Name), ".zip") {
			return a, true
		}
	}
	return Asset{}, false
}

// LatestRelease fetches the latest release of repo ("owner/name"). Server
// errors and transport failures are retried; 4xx responses are not.
func (c *Client) LatestRelease(ctx context.Context, repo string) (*Release, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimRight(c.opts.APIBase, "/"), repo)
	rel, err := backoff.Retry(ctx, func() (*Release, error) {
		return c.fetchRelease(ctx, url)
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.opts.MaxTries))
	if err != nil {
		return nil, fmt.Errorf("latest release of %s: %w", repo, err)
	}
	return rel, nil
}

func (c *Client) fetchRelease(ctx context.Context, url string) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReleaseBody))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("release feed returned %s", resp.Status)
	case resp.StatusCode >= 400:
		msg := gjson.GetBytes(body, "message").String()
		return nil, backoff.Permanent(fmt.Errorf("release feed returned %s: %s", resp.Status, msg))
	}

	rel, err := parseRelease(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return rel, nil
}

func parseRelease(body []byte) (*Release, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("release feed returned invalid JSON")
	}
	doc := gjson.ParseBytes(body)
	rel := &Release{
		Tag:  doc.Get("tag_name").String(),
		Name: doc.Get("name").String(),
	}
	if rel.Tag == "" {
		return nil, errors.New("release has no tag_name")
	}
	if rel.Name == "" {
		rel.Name = rel.Tag
	}
	if published := doc.Get("published_at").String(); published != "" {
		t, err := time.Parse(time.RFC3339, published)
		if err != nil {
			return nil, fmt.Errorf("parsing published_at: %w", err)
		}
		rel.PublishedAt = t
	}
	doc.Get("assets").ForEach(func(_, a gjson.Result) bool {
		rel.Assets = append(rel.Assets, Asset{
			Name: a.Get("name").String(),
			URL:  a.Get("browser_download_url").String(),
			Size: a.Get("size").Int(),
		})
		return true
	})
	return rel, nil
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// IsNewer reports whether latest is a higher semantic version than current.
// An unparseable current version counts as outdated; an unparseable latest
// version never wins.
func IsNewer(current, latest string) bool {
	cur, lat := canonical(current), canonical(latest)
	if !semver.IsValid(lat) {
		return false
	}
	if !semver.IsValid(cur) {
		return true
	}
	return semver.Compare(cur, lat) < 0
}
