package domain

import (
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"time"
)

type AnnotationType string

const (
	AnnotationComment   AnnotationType = "comment"
	AnnotationHighlight AnnotationType = "highlight"
	AnnotationDrawing   AnnotationType = "drawing"
	AnnotationText      AnnotationType = "text"
)

// AnnotationContent - полезная нагрузка аннотации, своя для каждого типа
type AnnotationContent interface {
	Type() AnnotationType
	Validate() error
}

type Comment struct {
	Text string `json:"text"`
}

type Highlight struct {
	Excerpt string `json:"excerpt"`
	Color   string `json:"color,omitempty"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Stroke struct {
	Points []Point `json:"points"`
	Color  string  `json:"color,omitempty"`
	Width  float64 `json:"width,omitempty"`
}

type Drawing struct {
	Strokes []Stroke `json:"strokes"`
}

type TextNote struct {
	Text     string `json:"text"`
	FontSize int    `json:"fontSize,omitempty"`
}

func (Comment) Type() AnnotationType   { return AnnotationComment }
func (Highlight) Type() AnnotationType { return AnnotationHighlight }
func (Drawing) Type() AnnotationType   { return AnnotationDrawing }
func (TextNote) Type() AnnotationType  { return AnnotationText }

func (c Comment) Validate() error {
	if c.Text == "" {
		return fmt.Errorf("%w: comment text is required", ErrInvalidAnnotation)
	}
	return nil
}

func (h Highlight) Validate() error {
	if h.Excerpt == "" {
		return fmt.Errorf("%w: highlight excerpt is required", ErrInvalidAnnotation)
	}
	return nil
}

func (d Drawing) Validate() error {
	if len(d.Strokes) == 0 {
		return fmt.Errorf("%w: drawing needs at least one stroke", ErrInvalidAnnotation)
	}
	for i, s := range d.Strokes {
		if len(s.Points) == 0 {
			return fmt.Errorf("%w: stroke %d has no points", ErrInvalidAnnotation, i)
		}
	}
	return nil
}

func (t TextNote) Validate() error {
	if t.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidAnnotation)
	}
	if t.FontSize < 0 {
		return fmt.Errorf("%w: font size cannot be negative", ErrInvalidAnnotation)
	}
	return nil
}

// DecodeAnnotationContent разбирает JSON нагрузки по дискриминатору типа
func DecodeAnnotationContent(t AnnotationType, raw []byte) (AnnotationContent, error) {
	var content AnnotationContent
	var err error
	switch t {
	case AnnotationComment:
		var c Comment
		err = json.Unmarshal(raw, &c)
		content = c
	case AnnotationHighlight:
		var h Highlight
		err = json.Unmarshal(raw, &h)
		content = h
	case AnnotationDrawing:
		var d Drawing
		err = json.Unmarshal(raw, &d)
		content = d
	case AnnotationText:
		var tn TextNote
		err = json.Unmarshal(raw, &tn)
		content = tn
	default:
		return nil, fmt.Errorf("%w: unknown annotation type %q", ErrInvalidAnnotation, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnnotation, err)
	}
	return content, nil
}

type Position struct {
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

type FileAnnotation struct {
	ID        uuid.UUID         `json:"id"`
	FileID    uuid.UUID         `json:"fileId"`
	UserID    string            `json:"userId"`
	Content   AnnotationContent `json:"content"`
	Position  *Position         `json:"position,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func (a *FileAnnotation) Type() AnnotationType {
	if a.Content == nil {
		return ""
	}
	return a.Content.Type()
}

type annotationJSON struct {
	ID        uuid.UUID       `json:"id"`
	FileID    uuid.UUID       `json:"fileId"`
	UserID    string          `json:"userId"`
	Type      AnnotationType  `json:"type"`
	Content   json.RawMessage `json:"content"`
	Position  *Position       `json:"position,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (a FileAnnotation) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(a.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(annotationJSON{
		ID:        a.ID,
		FileID:    a.FileID,
		UserID:    a.UserID,
		Type:      a.Type(),
		Content:   raw,
		Position:  a.Position,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	})
}

func (a *FileAnnotation) UnmarshalJSON(data []byte) error {
	var aux annotationJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	content, err := DecodeAnnotationContent(aux.Type, aux.Content)
	if err != nil {
		return err
	}
	*a = FileAnnotation{
		ID:        aux.ID,
		FileID:    aux.FileID,
		UserID:    aux.UserID,
		Content:   content,
		Position:  aux.Position,
		CreatedAt: aux.CreatedAt,
		UpdatedAt: aux.UpdatedAt,
	}
	return nil
}

// AnnotationUpdate - изменяемые поля аннотации; nil означает "не менять"
type AnnotationUpdate struct {
	Content  AnnotationContent
	Position *Position
}
