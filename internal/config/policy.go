package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds the sync settings that operators tune per deployment.
type Policy struct {
	// TemplatePlaylistID is cloned when a screen needs its own playlist.
	// Zero disables provisioning.
	TemplatePlaylistID int64 `yaml:"template_playlist_id"`
	// FillerMediaID seeds playlists that would otherwise be empty. Zero
	// leaves them empty.
	FillerMediaID        int64         `yaml:"filler_media_id"`
	FillerDuration       int           `yaml:"filler_duration"`
	DefaultMediaDuration int           `yaml:"default_media_duration"`
	PublishSettleDelay   time.Duration `yaml:"publish_settle_delay"`
	ReverifyDelay        time.Duration `yaml:"reverify_delay"`
	SweepCron            string        `yaml:"sweep_cron"`
}

// MergeFile overlays the non-zero fields of the YAML file at path.
func (p *Policy) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}

	if file.TemplatePlaylistID != 0 {
		p.TemplatePlaylistID = file.TemplatePlaylistID
	}
	if file.FillerMediaID != 0 {
		p.FillerMediaID = file.FillerMediaID
	}
	if file.FillerDuration != 0 {
		p.FillerDuration = file.FillerDuration
	}
	if file.DefaultMediaDuration != 0 {
		p.DefaultMediaDuration = file.DefaultMediaDuration
	}
	if file.PublishSettleDelay != 0 {
		p.PublishSettleDelay = file.PublishSettleDelay
	}
	if file.ReverifyDelay != 0 {
		p.ReverifyDelay = file.ReverifyDelay
	}
	if file.SweepCron != "" {
		p.SweepCron = file.SweepCron
	}
	return nil
}

func (p Policy) Validate() error {
	if p.TemplatePlaylistID < 0 || p.FillerMediaID < 0 {
		return fmt.Errorf("policy ids must not be negative")
	}
	if p.FillerDuration <= 0 || p.DefaultMediaDuration <= 0 {
		return fmt.Errorf("policy durations must be positive")
	}
	if p.PublishSettleDelay < 0 || p.ReverifyDelay < 0 {
		return fmt.Errorf("policy delays must not be negative")
	}
	return nil
}
