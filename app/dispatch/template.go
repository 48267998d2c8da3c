// Package dispatch sends one rendered message per recipient over a fixed
// snapshot, sequentially and paced, recording the outcome of every attempt.
package dispatch

import (
	"strings"
	"sync"

	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

// Template is a message template that may be edited while a job runs.
// Edits apply to recipients not yet rendered.
type Template struct {
	mu   sync.RWMutex
	text string
}

func NewTemplate(text string) *Template {
	return &Template{text: text}
}

func (t *Template) Get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.text
}

func (t *Template) Set(text string) {
	t.mu.Lock()
	t.text = text
	t.mu.Unlock()
}

// Render returns the message for rec. With personalize set, every {name}
// placeholder becomes the display name, or fallback when the name is blank.
func Render(template string, rec models.AudienceRecord, personalize bool, fallback string) string {
	if !personalize {
		return template
	}
	name := strings.TrimSpace(rec.DisplayName)
	if name == "" {
		name = fallback
	}
	return strings.ReplaceAll(template, utils.NamePlaceholder, name)
}
