package firmware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ghRelease mirrors the subset of GitHub's Releases API response this
// system reads.
type ghRelease struct {
	TagName string    `json:"tag_name"`
	Name    string    `json:"name"`
	Assets  []ghAsset `json:"assets"`
}

type ghAsset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// githubRepoConfig pins one source to its GitHub repo and the asset file
// extension that source's builds ship under.
type githubRepoConfig struct {
	source    Source
	owner     string
	repo      string
	extension string // ".px4", ".hex", etc.
}

var githubSources = map[Source]githubRepoConfig{
	SourcePX4:        {source: SourcePX4, owner: "PX4", repo: "PX4-Autopilot", extension: ".px4"},
	SourceBetaflight: {source: SourceBetaflight, owner: "betaflight", repo: "betaflight", extension: ".hex"},
	SourceINav:       {source: SourceINav, owner: "iNavFlight", repo: "inav", extension: ".hex"},
}

// GitHubSource queries a GitHub Releases API catalogue and matches assets
// to a board target by filename prefix, per spec.md §4.7.
type GitHubSource struct {
	client *http.Client
	cfg    githubRepoConfig

	cached []ghRelease
}

// NewGitHubSource builds a source for one of SourcePX4/Betaflight/INav.
func NewGitHubSource(client *http.Client, source Source) (*GitHubSource, error) {
	cfg, ok := githubSources[source]
	if !ok {
		return nil, fmt.Errorf("firmware: no GitHub repo configured for source %s", source)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GitHubSource{client: client, cfg: cfg}, nil
}

func (s *GitHubSource) fetch(ctx context.Context) ([]ghRelease, error) {
	if s.cached != nil {
		return s.cached, nil
	}

	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases?per_page=100", s.cfg.owner, s.cfg.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ErrManifestUnreachable{Source: s.cfg.source, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &ErrManifestUnreachable{Source: s.cfg.source, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ErrManifestUnreachable{Source: s.cfg.source, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	var releases []ghRelease
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, &ErrManifestUnreachable{Source: s.cfg.source, Err: err}
	}
	s.cached = releases
	return releases, nil
}

// Versions returns every release asset whose filename both carries this
// source's extension and starts with boardTarget (case-insensitively),
// newest-release-first (GitHub already orders releases that way).
func (s *GitHubSource) Versions(ctx context.Context, boardTarget string) ([]FirmwareVersion, error) {
	releases, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	var out []FirmwareVersion
	prefix := strings.ToUpper(boardTarget)
	for i, r := range releases {
		for _, a := range r.Assets {
			if !strings.HasSuffix(a.Name, s.cfg.extension) {
				continue
			}
			if !strings.HasPrefix(strings.ToUpper(a.Name), prefix) {
				continue
			}
			out = append(out, FirmwareVersion{
				Version:     r.TagName,
				ReleaseType: releaseTypeFromTag(r.TagName),
				DownloadURL: a.BrowserDownloadURL,
				FileSize:    a.Size,
				Latest:      i == 0,
			})
		}
	}
	if len(out) == 0 {
		return nil, &ErrNoMatchingBoard{Source: s.cfg.source, Query: boardTarget}
	}
	return out, nil
}

func releaseTypeFromTag(tag string) ReleaseType {
	lower := strings.ToLower(tag)
	switch {
	case strings.Contains(lower, "rc") || strings.Contains(lower, "beta"):
		return ReleaseBeta
	case strings.Contains(lower, "dev") || strings.Contains(lower, "nightly"):
		return ReleaseDev
	default:
		return ReleaseStable
	}
}
