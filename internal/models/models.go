package models

import "time"

// Artifact represents a compressed PDF record stored in TiDB
type Artifact struct {
	ID             string    `json:"id"`
	OriginalName   string    `json:"originalName"`
	FileName       string    `json:"fileName"`
	Size           int64     `json:"size"`
	CompressedSize int64     `json:"compressedSize"`
	Path           string    `json:"path"`
	Checksum       string    `json:"checksum"`
	TargetMet      bool      `json:"targetMet"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ExpiresAt returns when the artifact stops being downloadable
func (a *Artifact) ExpiresAt(ttl time.Duration) time.Time {
	return a.CreatedAt.Add(ttl)
}

// Expired reports whether the artifact is past its lifetime at now
func (a *Artifact) Expired(now time.Time, ttl time.Duration) bool {
	return !now.Before(a.ExpiresAt(ttl))
}

// ArtifactMeta is what the pipeline knows about a blob before it is stored
type ArtifactMeta struct {
	OriginalName string
	FileName     string
	OriginalSize int64
	TargetMet    bool
}
