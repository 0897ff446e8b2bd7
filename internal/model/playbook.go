package model

import "time"

// Playbook represents a named automation script artifact
type Playbook struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Path to the playbook file on disk.
	Path string `json:"path"`

	// Inventory mode is metadata only. The real inventory is generated
	// per run and never stored.
	Inventory string `json:"inventory"`

	CreatedAt time.Time `json:"created_at"`
}
