package domain

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// VideoType distinguishes directly played media from embedded remote players.
type VideoType string

const (
	VideoLocal   VideoType = "local"
	VideoYouTube VideoType = "youtube"
)

// Video is the playback source of a project.
type Video struct {
	Type VideoType `json:"type"`
	URL  string    `json:"url"`
	Name string    `json:"name,omitempty"`
}

// Validate checks the source type and, for YouTube, that an id can be extracted.
func (v *Video) Validate() error {
	switch v.Type {
	case VideoLocal:
		if strings.TrimSpace(v.URL) == "" && strings.TrimSpace(v.Name) == "" {
			return invalid("video.url", "empty")
		}
	case VideoYouTube:
		if YouTubeID(v.URL) == "" {
			return invalid("video.url", "no YouTube video id in %q", v.URL)
		}
	default:
		return invalid("video.type", "unknown %q", v.Type)
	}
	return nil
}

// YouTubeID extracts the video id from youtube.com/watch?v= and youtu.be URLs.
func YouTubeID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "youtu.be":
		return strings.Trim(u.Path, "/")
	case strings.HasSuffix(host, "youtube.com"):
		if id := u.Query().Get("v"); id != "" {
			return id
		}
		if rest, ok := strings.CutPrefix(u.Path, "/embed/"); ok {
			return strings.Trim(rest, "/")
		}
	}
	return ""
}

// Project groups a video with its interaction catalog.
type Project struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Video        *Video        `json:"video"`
	Interactions []Interaction `json:"interactions"`
	CreatedAt    time.Time     `json:"-"`
	UpdatedAt    time.Time     `json:"-"`
}

// Validate checks the project name, video and every interaction, including
// id uniqueness across the catalog.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "empty")
	}
	if p.Video != nil {
		if err := p.Video.Validate(); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(p.Interactions))
	for idx := range p.Interactions {
		in := &p.Interactions[idx]
		if err := in.Validate(); err != nil {
			return prefixed(fmt.Sprintf("interactions[%d]", idx), err)
		}
		if _, dup := seen[in.ID]; dup {
			return invalid(fmt.Sprintf("interactions[%d].id", idx), "duplicate id %q", in.ID)
		}
		seen[in.ID] = struct{}{}
	}
	return nil
}

// Interaction returns the interaction with id, or nil.
func (p *Project) Interaction(id string) *Interaction {
	for i := range p.Interactions {
		if p.Interactions[i].ID == id {
			return &p.Interactions[i]
		}
	}
	return nil
}

// DecodeProject reads a project document and validates it as a whole. Any
// malformed interaction rejects the entire document.
func DecodeProject(r io.Reader) (*Project, error) {
	var p Project
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, invalid("", "malformed project JSON: %v", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
