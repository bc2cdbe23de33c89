package outline

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Two wire shapes exist for outlines: the current Section/Lesson form and
// the legacy Module/Topic form produced by older curriculum generators.
// Both are validated and normalized into the canonical tree here so the
// rest of the code only ever sees Section/Lesson.

const outlineSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "oneOf": [
    {"required": ["sections"]},
    {"required": ["modules"]}
  ],
  "properties": {
    "sections": {"type": "array", "items": {"$ref": "#/definitions/section"}},
    "modules": {"type": "array", "items": {"$ref": "#/definitions/module"}}
  },
  "definitions": {
    "section": {
      "type": "object",
      "required": ["id", "title"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "title": {"type": "string"},
        "estimated_minutes": {"type": "integer", "minimum": 0},
        "lessons": {"type": "array", "items": {"$ref": "#/definitions/lesson"}}
      }
    },
    "module": {
      "type": "object",
      "required": ["id", "title"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "title": {"type": "string"},
        "estimated_minutes": {"type": "integer", "minimum": 0},
        "topics": {"type": "array", "items": {"$ref": "#/definitions/lesson"}}
      }
    },
    "lesson": {
      "type": "object",
      "required": ["id", "title"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "title": {"type": "string"},
        "type": {"type": "string"},
        "estimated_minutes": {"type": "integer", "minimum": 0},
        "blocks": {"type": "array", "items": {"$ref": "#/definitions/block"}}
      }
    },
    "block": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "type": {"type": "string"},
        "title": {"type": "string"},
        "order": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(outlineSchema)

// wireLesson covers both the lesson and topic wire forms.
type wireLesson struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Type             string      `json:"type"`
	EstimatedMinutes int         `json:"estimated_minutes"`
	BlocksStatus     string      `json:"blocks_status"`
	Blocks           []wireBlock `json:"blocks"`
}

type wireBlock struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Title         string          `json:"title"`
	Order         int             `json:"order"`
	ContentStatus string          `json:"content_status"`
	Content       json.RawMessage `json:"content"`
}

type wireGroup struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	EstimatedMinutes int          `json:"estimated_minutes"`
	Lessons          []wireLesson `json:"lessons"`
	Topics           []wireLesson `json:"topics"`
}

type wireOutline struct {
	Sections []wireGroup `json:"sections"`
	Modules  []wireGroup `json:"modules"`
}

// Decode validates an outline payload against the wire schema, accepts
// either historical shape, and returns the canonical tree.
func Decode(data []byte) (*Outline, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutline, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrMalformedOutline, result.Errors()[0])
	}

	var wire wireOutline
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutline, err)
	}

	groups := wire.Sections
	if len(groups) == 0 && len(wire.Modules) > 0 {
		groups = wire.Modules
	}

	out := &Outline{Sections: make([]Section, 0, len(groups))}
	for _, g := range groups {
		lessons := g.Lessons
		if len(lessons) == 0 && len(g.Topics) > 0 {
			lessons = g.Topics
		}
		sec := Section{
			ID:               g.ID,
			Title:            g.Title,
			EstimatedMinutes: g.EstimatedMinutes,
			Lessons:          make([]Lesson, 0, len(lessons)),
		}
		for _, l := range lessons {
			sec.Lessons = append(sec.Lessons, normalizeLesson(l))
		}
		out.Sections = append(out.Sections, sec)
	}

	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeLesson(l wireLesson) Lesson {
	lessonType := LessonType(l.Type)
	if lessonType == "" {
		lessonType = TypeLesson
	}
	blocksStatus := GenStatus(l.BlocksStatus)
	if blocksStatus == "" {
		if len(l.Blocks) > 0 {
			blocksStatus = GenReady
		} else {
			blocksStatus = GenPending
		}
	}
	lesson := Lesson{
		ID:               l.ID,
		Title:            l.Title,
		Type:             lessonType,
		EstimatedMinutes: l.EstimatedMinutes,
		BlocksStatus:     blocksStatus,
	}
	for _, b := range l.Blocks {
		status := ContentStatus(b.ContentStatus)
		if status == "" {
			if len(b.Content) > 0 {
				status = ContentReady
			} else {
				status = ContentPending
			}
		}
		lesson.Blocks = append(lesson.Blocks, Block{
			ID:            b.ID,
			Type:          b.Type,
			Title:         b.Title,
			Order:         b.Order,
			ContentStatus: status,
			Content:       b.Content,
		})
	}
	return lesson
}

// Validate checks the structural invariants of a canonical tree: every id
// present and unique across sections, lessons and blocks.
func Validate(o *Outline) error {
	if o == nil {
		return fmt.Errorf("%w: nil tree", ErrMalformedOutline)
	}
	seen := make(map[string]string)
	note := func(id, kind string) error {
		if id == "" {
			return fmt.Errorf("%w: %s with empty id", ErrMalformedOutline, kind)
		}
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("%w: duplicate id %q (%s and %s)", ErrMalformedOutline, id, prev, kind)
		}
		seen[id] = kind
		return nil
	}

	for _, sec := range o.Sections {
		if err := note(sec.ID, "section"); err != nil {
			return err
		}
		for _, l := range sec.Lessons {
			if err := note(l.ID, "lesson"); err != nil {
				return err
			}
			for _, b := range l.Blocks {
				if err := note(b.ID, "block"); err != nil {
					return err
				}
				if b.Order < 0 {
					return fmt.Errorf("%w: block %q has negative order", ErrMalformedOutline, b.ID)
				}
			}
		}
	}
	return nil
}
