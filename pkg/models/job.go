// Package models contains shared data models used across the gatekeeper codebase.
package models

import (
	"time"
)

const (
	JobStatusAdmitted  = "admitted"
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// Parameter keys understood by the lip-sync backend.
const (
	ParamAudioPath       = "audio_path"
	ParamVideoPath       = "video_path"
	ParamBBoxShift       = "bbox_shift"
	ParamExtraMargin     = "extra_margin"
	ParamParsingMode     = "parsing_mode"
	ParamLeftCheekWidth  = "left_cheek_width"
	ParamRightCheekWidth = "right_cheek_width"
	ParamOutputFilePath  = "output_file_path"
)

// JobParams is the caller's parameter bundle, kept exactly as submitted.
// Nothing checks it at admission time; missing keys surface when the
// invoker reads them.
type JobParams map[string]any

// Job is a single admitted unit of work. The API returns its Handle on
// POST /execute; the client listens on /ws/{handle} for the JobResult.
type Job struct {
	Handle    string    `json:"handle"`
	Params    JobParams `json:"params"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is the audit row kept for a job when a database is configured.
// It never carries the job's parameters or result.
type Run struct {
	Handle     string     `db:"handle"      json:"handle"`
	Status     string     `db:"status"      json:"status"`
	CreatedAt  time.Time  `db:"created_at"  json:"created_at"`
	StartedAt  *time.Time `db:"started_at"  json:"started_at,omitempty"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `db:"updated_at"  json:"updated_at"`
}
