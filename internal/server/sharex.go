package server

import (
	"encoding/json"
	"net/http"
	"net/url"
)

// shareXConfig is a ShareX custom uploader (.sxcu) descriptor.
type shareXConfig struct {
	Version         string            `json:"Version"`
	Name            string            `json:"Name"`
	DestinationType string            `json:"DestinationType"`
	RequestMethod   string            `json:"RequestMethod"`
	RequestURL      string            `json:"RequestURL"`
	Headers         map[string]string `json:"Headers"`
	Body            string            `json:"Body"`
	FileFormName    string            `json:"FileFormName"`
	URL             string            `json:"URL"`
	ThumbnailURL    string            `json:"ThumbnailURL"`
	DeletionURL     string            `json:"DeletionURL"`
	ErrorMessage    string            `json:"ErrorMessage"`
}

func (s *Server) shareXConfig() shareXConfig {
	name := s.cfg.SiteTitle
	if u, err := url.Parse(s.cfg.BaseURL); err == nil && u.Host != "" {
		name += " (" + u.Host + ")"
	}
	return shareXConfig{
		Version:         "14.0.0",
		Name:            name,
		DestinationType: "ImageUploader",
		RequestMethod:   http.MethodPost,
		RequestURL:      s.cfg.BaseURL + "/upload",
		Headers:         map[string]string{"Accept": "application/json"},
		Body:            "MultipartFormData",
		FileFormName:    "image",
		URL:             "{json:url}",
		ThumbnailURL:    "{json:thumbnail_url}",
		DeletionURL:     "{json:delete_url}",
		ErrorMessage:    "{json:error}",
	}
}

// handleShareXConfig handles GET /sharex-config.sxcu.
func (s *Server) handleShareXConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="screendawg.sxcu"`)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(s.shareXConfig())
}
