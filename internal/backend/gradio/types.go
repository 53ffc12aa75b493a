package gradio

import (
	"encoding/json"
	"strings"
)

const fileDataType = "gradio.FileData"

// fileData is Gradio's file reference, used both for uploaded inputs and
// produced outputs.
type fileData struct {
	Path     string            `json:"path"`
	URL      string            `json:"url,omitempty"`
	OrigName string            `json:"orig_name,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

func newFileData(serverPath, origName string) fileData {
	return fileData{
		Path:     serverPath,
		OrigName: origName,
		Meta:     map[string]string{"_type": fileDataType},
	}
}

// videoInput wraps a video file under the sub-key the Video component expects.
type videoInput struct {
	Video fileData `json:"video"`
}

type callRequest struct {
	Data []any `json:"data"`
}

type callResponse struct {
	EventID string `json:"event_id"`
}

// videoFile extracts the produced video from the first prediction output.
// The Video component answers either {"video": FileData, ...} or a bare
// FileData; a plain string is taken as a path.
func videoFile(raw json.RawMessage) (fileData, bool) {
	var wrapped struct {
		Video json.RawMessage `json:"video"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Video) > 0 {
		return asFileData(wrapped.Video)
	}
	return asFileData(raw)
}

func asFileData(raw json.RawMessage) (fileData, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return fileData{Path: s}, s != ""
	}
	var fd fileData
	if err := json.Unmarshal(raw, &fd); err != nil {
		return fileData{}, false
	}
	return fd, fd.Path != "" || fd.URL != ""
}

// appErrorMessage pulls a human message out of an "error" event payload.
func appErrorMessage(data string) string {
	var s string
	if err := json.Unmarshal([]byte(data), &s); err == nil && s != "" {
		return s
	}
	var obj struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &obj); err == nil {
		if obj.Error != "" {
			return obj.Error
		}
		if obj.Message != "" {
			return obj.Message
		}
	}
	if d := strings.TrimSpace(data); d != "" && d != "null" {
		return d
	}
	return "gradio app reported an error"
}
