package backends

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"reelsync/config"
	"reelsync/models"
	"reelsync/services/journal"
)

const githubBaseURL = "https://api.github.com"

// GitHubReader reads a JSON file committed to a repository via the contents API.
type GitHubReader struct {
	cfg     config.GitHubSettings
	client  *http.Client
	baseURL string
}

func NewGitHubReader(cfg config.GitHubSettings, client *http.Client, baseURL string) *GitHubReader {
	return &GitHubReader{cfg: cfg, client: client, baseURL: orDefault(baseURL, githubBaseURL)}
}

type githubContent struct {
	Type        string `json:"type"`
	Encoding    string `json:"encoding"`
	Content     string `json:"content"`
	DownloadURL string `json:"download_url"`
}

func (r *GitHubReader) Read(ctx context.Context) ([]models.JournalEntry, error) {
	if r.cfg.Owner == "" || r.cfg.Repo == "" {
		return nil, journal.ErrNotConfigured
	}
	filePath := strings.Trim(r.cfg.Path, "/")
	if filePath == "" {
		filePath = "journal/entries.json"
	}
	segments := strings.Split(filePath, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		r.baseURL, url.PathEscape(r.cfg.Owner), url.PathEscape(r.cfg.Repo), strings.Join(segments, "/"))
	if r.cfg.Branch != "" {
		endpoint += "?ref=" + url.QueryEscape(r.cfg.Branch)
	}

	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if r.cfg.Token != "" {
		headers["Authorization"] = "Bearer " + r.cfg.Token
	}

	var content githubContent
	if err := doJSON(ctx, r.client, restCall{url: endpoint, headers: headers}, &content); err != nil {
		return nil, err
	}
	if content.Type != "" && content.Type != "file" {
		return nil, fmt.Errorf("%s is a %s, not a file", filePath, content.Type)
	}

	var data []byte
	switch {
	case content.Content != "" && content.Encoding == "base64":
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
		data = decoded
	case content.Content != "":
		data = []byte(content.Content)
	case content.DownloadURL != "":
		// Files over 1 MB come back without inline content.
		if err := doJSON(ctx, r.client, restCall{url: content.DownloadURL, headers: headers}, &data); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("empty file content")
	}

	records, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	return normalizeAll(records, structuredTimes), nil
}
