package backend

import (
	"encoding/json"

	"github.com/kiranshivaraju/gatekeeper/pkg/models"
)

// buildRequest reads every field the backend needs out of params.
func buildRequest(params models.JobParams) (Request, error) {
	var (
		req Request
		err error
	)
	if req.AudioPath, err = stringParam(params, models.ParamAudioPath); err != nil {
		return Request{}, err
	}
	if req.VideoPath, err = stringParam(params, models.ParamVideoPath); err != nil {
		return Request{}, err
	}
	if req.BBoxShift, err = numberParam(params, models.ParamBBoxShift); err != nil {
		return Request{}, err
	}
	if req.ExtraMargin, err = numberParam(params, models.ParamExtraMargin); err != nil {
		return Request{}, err
	}
	if req.ParsingMode, err = stringParam(params, models.ParamParsingMode); err != nil {
		return Request{}, err
	}
	if req.LeftCheekWidth, err = numberParam(params, models.ParamLeftCheekWidth); err != nil {
		return Request{}, err
	}
	if req.RightCheekWidth, err = numberParam(params, models.ParamRightCheekWidth); err != nil {
		return Request{}, err
	}
	return req, nil
}

func stringParam(params models.JobParams, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", &ParamError{Key: key, Reason: "missing required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ParamError{Key: key, Reason: "expected string for"}
	}
	return s, nil
}

func numberParam(params models.JobParams, key string) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, &ParamError{Key: key, Reason: "missing required"}
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, &ParamError{Key: key, Reason: "expected number for"}
		}
		return f, nil
	default:
		return 0, &ParamError{Key: key, Reason: "expected number for"}
	}
}
