package models

import (
	"encoding/json"
	"path/filepath"
)

const (
	ResultFormatFilePath = "filePath"
	ResultFormatError    = "error"
)

// JobResult is the terminal payload pushed to a job's notification channel.
// Exactly one of the two shapes is produced:
//
//	{"format":"filePath","data":<path>,"filename":<basename>}
//	{"format":"error","error":<message>}
type JobResult struct {
	Format   string
	Data     string
	Filename string
	Error    string
}

// SuccessResult builds a filePath result for the artifact at path.
func SuccessResult(path string) JobResult {
	return JobResult{
		Format:   ResultFormatFilePath,
		Data:     path,
		Filename: filepath.Base(path),
	}
}

// FailureResult builds an error result carrying err's message verbatim.
func FailureResult(err error) JobResult {
	return JobResult{Format: ResultFormatError, Error: err.Error()}
}

// Succeeded reports whether r is a filePath result.
func (r JobResult) Succeeded() bool {
	return r.Format == ResultFormatFilePath
}

type filePathPayload struct {
	Format   string `json:"format"`
	Data     string `json:"data"`
	Filename string `json:"filename"`
}

type errorPayload struct {
	Format string `json:"format"`
	Error  string `json:"error"`
}

func (r JobResult) MarshalJSON() ([]byte, error) {
	if r.Format == ResultFormatFilePath {
		return json.Marshal(filePathPayload{Format: r.Format, Data: r.Data, Filename: r.Filename})
	}
	return json.Marshal(errorPayload{Format: ResultFormatError, Error: r.Error})
}

func (r *JobResult) UnmarshalJSON(b []byte) error {
	var raw struct {
		Format   string `json:"format"`
		Data     string `json:"data"`
		Filename string `json:"filename"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = JobResult{Format: raw.Format, Data: raw.Data, Filename: raw.Filename, Error: raw.Error}
	return nil
}
