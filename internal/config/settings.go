package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Settings are the operator-tunable values read fresh on every use.
// They are loaded from the settings file and swapped atomically on change.
type Settings struct {
	// DownloadEngine is "name" or "name:variant".
	DownloadEngine string `json:"download_engine"`
	// AutoDownload defaults to true when omitted.
	AutoDownload *bool `json:"auto_download,omitempty"`

	PrimaryGuildID     string   `json:"primary_guild_id"`
	FallbackChannelID  string   `json:"fallback_channel_id"`
	AutoCreateParentID string   `json:"auto_create_parent_id"`
	SourceBotIDs       []string `json:"source_bot_ids"`
	OwnerID            string   `json:"owner_id"`
}

// AutoDownloadEnabled applies the default for an unset flag.
func (s *Settings) AutoDownloadEnabled() bool {
	return s.AutoDownload == nil || *s.AutoDownload
}

// IsAllowedAuthor reports whether messages from authorID are considered.
func (s *Settings) IsAllowedAuthor(authorID string) bool {
	if authorID == "" {
		return false
	}
	if s.OwnerID != "" && authorID == s.OwnerID {
		return true
	}
	return slices.Contains(s.SourceBotIDs, authorID)
}

// EngineSelector splits DownloadEngine into engine name and variant.
func (s *Settings) EngineSelector() (name, variant string) {
	name, variant, _ = strings.Cut(strings.TrimSpace(s.DownloadEngine), ":")
	return strings.TrimSpace(name), strings.TrimSpace(variant)
}

// Validate rejects settings that would leave the pipeline without a route.
func (s *Settings) Validate() error {
	var errs []error
	if name, _ := s.EngineSelector(); name == "" {
		errs = append(errs, errors.New("download_engine is required"))
	}
	if s.FallbackChannelID == "" {
		errs = append(errs, errors.New("fallback_channel_id is required"))
	}
	if s.PrimaryGuildID == "" {
		errs = append(errs, errors.New("primary_guild_id is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
	}
	return nil
}
