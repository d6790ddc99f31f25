package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/cuepoint/internal/domain"
	"github.com/ashureev/cuepoint/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ProjectHandler serves project authoring.
type ProjectHandler struct {
	repo  store.Repository
	newID func() string
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(repo store.Repository) *ProjectHandler {
	return &ProjectHandler{repo: repo, newID: uuid.NewString}
}

// RegisterRoutes registers project routes.
func (h *ProjectHandler) RegisterRoutes(r chi.Router) {
	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Post("/import", h.Import)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Put("/video", h.SetVideo)
			r.Get("/export", h.Export)
			r.Post("/interactions", h.AddInteraction)
			r.Put("/interactions/{iid}", h.UpdateInteraction)
			r.Delete("/interactions/{iid}", h.RemoveInteraction)
		})
	})
}

type projectSummary struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Video        *domain.Video `json:"video"`
	Interactions int           `json:"interactions"`
	UpdatedAt    int64         `json:"updatedAt"`
}

// List returns every project with its interaction count.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.repo.ListProjects(r.Context())
	if err != nil {
		Fail(w, r, err)
		return
	}
	out := make([]projectSummary, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectSummary{
			ID:           p.ID,
			Name:         p.Name,
			Video:        p.Video,
			Interactions: len(p.Interactions),
			UpdatedAt:    p.UpdatedAt.UnixMilli(),
		})
	}
	JSON(w, http.StatusOK, out)
}

// Create makes an empty project from {"name": ...}.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	p := &domain.Project{ID: h.newID(), Name: strings.TrimSpace(req.Name), Interactions: []domain.Interaction{}}
	if err := p.Validate(); err != nil {
		Fail(w, r, err)
		return
	}
	if err := h.repo.UpsertProject(r.Context(), p); err != nil {
		Fail(w, r, err)
		return
	}
	slog.Info("Project created", "project_id", p.ID, "name", p.Name)
	JSON(w, http.StatusCreated, p)
}

func (h *ProjectHandler) load(w http.ResponseWriter, r *http.Request) *domain.Project {
	id := chi.URLParam(r, "id")
	p, err := h.repo.GetProject(r.Context(), id)
	if err != nil {
		Fail(w, r, err)
		return nil
	}
	if p == nil {
		Fail(w, r, fmt.Errorf("project %s: %w", id, domain.ErrNotFound))
		return nil
	}
	return p
}

// save validates and stores p, then writes it back with status.
func (h *ProjectHandler) save(w http.ResponseWriter, r *http.Request, p *domain.Project, status int) {
	if err := p.Validate(); err != nil {
		Fail(w, r, err)
		return
	}
	if err := h.repo.UpsertProject(r.Context(), p); err != nil {
		Fail(w, r, err)
		return
	}
	JSON(w, status, p)
}

// Get returns a project with its full catalog, answers included.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	if p := h.load(w, r); p != nil {
		JSON(w, http.StatusOK, p)
	}
}

// Delete removes a project. Recorded sessions are kept.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p := h.load(w, r)
	if p == nil {
		return
	}
	if err := h.repo.DeleteProject(r.Context(), p.ID); err != nil {
		Fail(w, r, err)
		return
	}
	slog.Info("Project deleted", "project_id", p.ID)
	w.WriteHeader(http.StatusNoContent)
}

// SetVideo sets the playback source. YouTube URLs must carry a video id.
func (h *ProjectHandler) SetVideo(w http.ResponseWriter, r *http.Request) {
	p := h.load(w, r)
	if p == nil {
		return
	}
	var v domain.Video
	if err := decode(r, &v); err != nil {
		Fail(w, r, err)
		return
	}
	v.URL = strings.TrimSpace(v.URL)
	if v.Type == domain.VideoYouTube {
		if id := domain.YouTubeID(v.URL); id != "" && v.Name == "" {
			v.Name = id
		}
	}
	p.Video = &v
	h.save(w, r, p, http.StatusOK)
}

// Export downloads the project document.
func (h *ProjectHandler) Export(w http.ResponseWriter, r *http.Request) {
	p := h.load(w, r)
	if p == nil {
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.json"`, p.ID))
	JSON(w, http.StatusOK, p)
}

// Import stores a project document. The document is validated as a whole;
// one malformed interaction rejects it entirely. A missing id is assigned.
func (h *ProjectHandler) Import(w http.ResponseWriter, r *http.Request) {
	p, err := domain.DecodeProject(body(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = h.newID()
	}
	if p.Interactions == nil {
		p.Interactions = []domain.Interaction{}
	}
	sortByTime(p.Interactions)
	if err := h.repo.UpsertProject(r.Context(), p); err != nil {
		Fail(w, r, err)
		return
	}
	slog.Info("Project imported", "project_id", p.ID, "interactions", len(p.Interactions))
	JSON(w, http.StatusCreated, p)
}

// timecode accepts a JSON number of seconds or a "m:ss" string.
type timecode float64

func (t *timecode) UnmarshalJSON(data []byte) error {
	var secs float64
	if err := json.Unmarshal(data, &secs); err == nil {
		if secs < 0 {
			return &domain.ValidationError{Field: "ts", Reason: "negative"}
		}
		*t = timecode(secs)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return &domain.ValidationError{Field: "ts", Reason: "want seconds or m:ss"}
	}
	secs, err := domain.ParseTimecode(s)
	if err != nil {
		return err
	}
	*t = timecode(secs)
	return nil
}

// interactionRequest is the authoring form of an interaction. Colour
// payloads may give hotspots as one "x,y,w,h;x,y,w,h" string and colours as
// one ';' separated string.
type interactionRequest struct {
	Kind    domain.Kind     `json:"type"`
	At      timecode        `json:"ts"`
	Hint    string          `json:"hint"`
	Payload json.RawMessage `json:"payload"`
}

func (req interactionRequest) build(id string) (domain.Interaction, error) {
	if !req.Kind.Valid() {
		return domain.Interaction{}, &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown interaction kind %q", req.Kind)}
	}
	payload := req.Payload
	if req.Kind == domain.KindRegionColoring {
		var err error
		if payload, err = expandColouring(payload); err != nil {
			return domain.Interaction{}, err
		}
	}
	raw, err := json.Marshal(map[string]any{
		"id":      id,
		"ts":      float64(req.At),
		"type":    req.Kind,
		"hint":    strings.TrimSpace(req.Hint),
		"payload": payload,
	})
	if err != nil {
		return domain.Interaction{}, fmt.Errorf("encode interaction: %w", err)
	}
	var in domain.Interaction
	if err := json.Unmarshal(raw, &in); err != nil {
		return domain.Interaction{}, err
	}
	return in, in.Validate()
}

// expandColouring rewrites string forms of "hotspots" and "colors" into arrays.
func expandColouring(raw json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return raw, nil
	}
	var spots string
	if err := json.Unmarshal(fields["hotspots"], &spots); err == nil {
		regions, err := domain.ParseRegions(spots)
		if err != nil {
			return nil, err
		}
		if fields["hotspots"], err = json.Marshal(regions); err != nil {
			return nil, fmt.Errorf("encode hotspots: %w", err)
		}
	}
	var colors string
	if err := json.Unmarshal(fields["colors"], &colors); err == nil {
		list := []string{}
		for _, c := range strings.Split(colors, ";") {
			list = append(list, strings.TrimSpace(c))
		}
		var err error
		if fields["colors"], err = json.Marshal(list); err != nil {
			return nil, fmt.Errorf("encode colors: %w", err)
		}
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}

// AddInteraction appends an interaction with a generated id.
func (h *ProjectHandler) AddInteraction(w http.ResponseWriter, r *http.Request) {
	p := h.load(w, r)
	if p == nil {
		return
	}
	var req interactionRequest
	if err := decode(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	in, err := req.build(h.newID())
	if err != nil {
		Fail(w, r, err)
		return
	}
	in.CreatedAt = time.Now()
	p.Interactions = append(p.Interactions, in)
	sortByTime(p.Interactions)
	slog.Info("Interaction added", "project_id", p.ID, "interaction_id", in.ID, "type", in.Kind(), "ts", domain.FormatTimecode(in.At))
	h.save(w, r, p, http.StatusCreated)
}

// UpdateInteraction replaces an interaction, keeping its id and creation time.
func (h *ProjectHandler) UpdateInteraction(w http.ResponseWriter, r *http.Request) {
	p := h.load(w, r)
	if p == nil {
		return
	}
	iid := chi.URLParam(r, "iid")
	existing := p.Interaction(iid)
	if existing == nil {
		Fail(w, r, fmt.Errorf("interaction %s: %w", iid, domain.ErrNotFound))
		return
	}
	var req interactionRequest
	if err := decode(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	in, err := req.build(iid)
	if err != nil {
		Fail(w, r, err)
		return
	}
	in.CreatedAt = existing.CreatedAt
	*existing = in
	sortByTime(p.Interactions)
	h.save(w, r, p, http.StatusOK)
}

// RemoveInteraction deletes an interaction from the catalog.
func (h *ProjectHandler) RemoveInteraction(w http.ResponseWriter, r *http.Request) {
	p := h.load(w, r)
	if p == nil {
		return
	}
	iid := chi.URLParam(r, "iid")
	kept := p.Interactions[:0]
	for _, in := range p.Interactions {
		if in.ID != iid {
			kept = append(kept, in)
		}
	}
	if len(kept) == len(p.Interactions) {
		Fail(w, r, fmt.Errorf("interaction %s: %w", iid, domain.ErrNotFound))
		return
	}
	p.Interactions = kept
	h.save(w, r, p, http.StatusOK)
}

// sortByTime keeps the stored catalog in trigger order; equal times keep
// their authoring order.
func sortByTime(items []domain.Interaction) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].At < items[j].At })
}
