package gradio

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

var errStreamEnded = errors.New("event stream ended before completion")

const maxEventLine = 16 << 20

type event struct {
	Name string
	Data string
}

// readEvents parses a text/event-stream body and calls fn for each event
// until fn reports done, fn fails, or the stream ends.
func readEvents(r io.Reader, fn func(event) (bool, error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxEventLine)

	var (
		name string
		data []string
	)
	dispatch := func() (bool, error) {
		if name == "" && len(data) == 0 {
			return false, nil
		}
		ev := event{Name: name, Data: strings.Join(data, "\n")}
		if ev.Name == "" {
			ev.Name = "message"
		}
		name, data = "", nil
		return fn(ev)
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			done, err := dispatch()
			if err != nil || done {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	done, err := dispatch()
	if err != nil || done {
		return err
	}
	return errStreamEnded
}
