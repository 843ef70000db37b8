package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Payload variants, keyed by JobType. The scheduler passes payloads through
// opaquely; these types exist only for enqueue-time validation and for the
// render adapter to extract the style/duration/voice parameters.

type DoubtPayload struct {
	Question    string `json:"question"`
	InputType   string `json:"input_type,omitempty"` // text, image, voice
	Style       string `json:"style,omitempty"`      // concise, detailed, example-rich
	VideoLength int    `json:"video_length,omitempty"`
	Voice       string `json:"voice_preference,omitempty"`
}

type TopicShortPayload struct {
	Topic           string `json:"topic"`
	Style           string `json:"style,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

type DailyCAPayload struct {
	Date     string `json:"date"` // YYYY-MM-DD
	Sections int    `json:"sections,omitempty"`
}

type NotesPayload struct {
	SourceText string `json:"source_text"`
	Format     string `json:"format,omitempty"`
}

const (
	DefaultRenderStyle  = "detailed"
	DefaultRenderLength = 60
	DefaultRenderVoice  = "default"
	minQuestionLength   = 5
	minSourceTextLength = 20
)

var validVideoLengths = map[int]bool{60: true, 120: true, 180: true}

// ValidatePayload checks a raw payload against the variant required by the
// job type. It is called before a job row is ever created, so malformed
// input never produces an orphan failed job.
func ValidatePayload(t JobType, raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	switch t {
	case JobTypeDoubt:
		var p DoubtPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if len(strings.TrimSpace(p.Question)) < minQuestionLength {
			return fmt.Errorf("%w: question must be at least %d characters", ErrInvalidPayload, minQuestionLength)
		}
		if p.VideoLength != 0 && !validVideoLengths[p.VideoLength] {
			return fmt.Errorf("%w: video_length must be 60, 120 or 180", ErrInvalidPayload)
		}
	case JobTypeTopicShort:
		var p TopicShortPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if strings.TrimSpace(p.Topic) == "" {
			return fmt.Errorf("%w: topic is required", ErrInvalidPayload)
		}
	case JobTypeDailyCA:
		var p DailyCAPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if _, err := time.Parse("2006-01-02", p.Date); err != nil {
			return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidPayload)
		}
	case JobTypeNotes:
		var p NotesPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if len(strings.TrimSpace(p.SourceText)) < minSourceTextLength {
			return fmt.Errorf("%w: source_text must be at least %d characters", ErrInvalidPayload, minSourceTextLength)
		}
	default:
		return fmt.Errorf("%w: unknown job type %q", ErrInvalidPayload, t)
	}
	return nil
}

// RenderParams are the normalized fields every render backend accepts.
type RenderParams struct {
	Input         string
	Style         string
	LengthSeconds int
	Voice         string
}

// ExtractRenderParams pulls the request parameters out of a job payload,
// applying the documented defaults for anything the caller omitted.
func ExtractRenderParams(j Job) RenderParams {
	params := RenderParams{
		Style:         DefaultRenderStyle,
		LengthSeconds: DefaultRenderLength,
		Voice:         DefaultRenderVoice,
	}

	switch j.Type {
	case JobTypeDoubt:
		var p DoubtPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return params
		}
		params.Input = p.Question
		if p.Style != "" {
			params.Style = p.Style
		}
		if p.VideoLength != 0 {
			params.LengthSeconds = p.VideoLength
		}
		if p.Voice != "" {
			params.Voice = p.Voice
		}
	case JobTypeTopicShort:
		var p TopicShortPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return params
		}
		params.Input = p.Topic
		if p.Style != "" {
			params.Style = p.Style
		}
		if p.DurationSeconds != 0 {
			params.LengthSeconds = p.DurationSeconds
		}
	case JobTypeDailyCA:
		var p DailyCAPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return params
		}
		params.Input = p.Date
	case JobTypeNotes:
		var p NotesPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return params
		}
		params.Input = p.SourceText
		if p.Format != "" {
			params.Style = p.Format
		}
	}
	return params
}
