// Package backend adapts a job's parameter bundle to the external lip-sync
// inference service and turns its response into a finished artifact on disk.
package backend

import (
	"context"
)

// Backend is the external inference service. It is consumed, not
// implemented, by the gatekeeper: never call a concrete client directly,
// always inject this interface.
type Backend interface {
	// Infer runs one inference and blocks until the backend answers.
	Infer(ctx context.Context, req Request) (Response, error)
	// Ready reports whether the backend is reachable.
	Ready(ctx context.Context) error
	// Name returns the backend identifier (e.g. "gradio").
	Name() string
}

// Request is the backend's call shape. Media paths are local; it is up to
// the Backend to turn them into whatever reference its transport needs.
type Request struct {
	AudioPath       string
	VideoPath       string
	BBoxShift       float64
	ExtraMargin     float64
	ParsingMode     string
	LeftCheekWidth  float64
	RightCheekWidth float64
}

// Response is what the backend produced. Only the first output is used.
type Response struct {
	Outputs []Output
}

// Output is one produced item. Video is the temporary local path the backend
// left the rendered file at, empty if it produced none.
type Output struct {
	Video string
}
