package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "realtime_chat/pkg/errors"
)

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindMedia MessageKind = "media"
)

type MediaKind string

const (
	MediaKindImage    MediaKind = "image"
	MediaKindVideo    MediaKind = "video"
	MediaKindAudio    MediaKind = "audio"
	MediaKindDocument MediaKind = "document"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaKindImage, MediaKindVideo, MediaKindAudio, MediaKindDocument:
		return true
	}
	return false
}

type MediaRef struct {
	URL  string    `json:"url"`
	Kind MediaKind `json:"kind"`
}

// Payload holds exactly one of Text or Media.
type Payload struct {
	Text  string    `json:"text,omitempty"`
	Media *MediaRef `json:"media,omitempty"`
}

func TextPayload(text string) Payload {
	return Payload{Text: text}
}

func MediaPayload(url string, kind MediaKind) Payload {
	return Payload{Media: &MediaRef{URL: url, Kind: kind}}
}

func (p Payload) Kind() MessageKind {
	if p.Media != nil {
		return MessageKindMedia
	}
	return MessageKindText
}

// Validate checks the one-variant rule and the text length limit (0 disables it).
func (p Payload) Validate(maxTextLen int) error {
	hasText := strings.TrimSpace(p.Text) != ""
	hasMedia := p.Media != nil

	switch {
	case hasText && hasMedia:
		return fmt.Errorf("%w: message must carry text or media, not both", apperrors.ErrValidation)
	case !hasText && !hasMedia:
		if p.Text != "" {
			return fmt.Errorf("%w: message text is blank", apperrors.ErrValidation)
		}
		return fmt.Errorf("%w: message is empty", apperrors.ErrValidation)
	case hasText:
		if maxTextLen > 0 && len([]rune(p.Text)) > maxTextLen {
			return fmt.Errorf("%w: message text exceeds %d characters", apperrors.ErrValidation, maxTextLen)
		}
	case hasMedia:
		if strings.TrimSpace(p.Media.URL) == "" {
			return fmt.Errorf("%w: media url is required", apperrors.ErrValidation)
		}
		if !p.Media.Kind.Valid() {
			return fmt.Errorf("%w: unknown media kind %q", apperrors.ErrValidation, p.Media.Kind)
		}
	}
	return nil
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AuthorID       string    `json:"author_id"`
	Payload        Payload   `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
}

// Snapshot is one delivery of a conversation subscription. Messages is the
// whole log in ascending creation order; Added and Removed are relative to
// the previous delivery of the same subscription.
type Snapshot struct {
	ConversationID string     `json:"conversation_id"`
	Messages       []*Message `json:"messages"`
	Added          []string   `json:"added,omitempty"`
	Removed        []string   `json:"removed,omitempty"`
}

// DiffMessageIDs returns ids present only in next (added) and only in prev (removed).
func DiffMessageIDs(prev, next []*Message) (added, removed []string) {
	seen := make(map[string]struct{}, len(prev))
	for _, m := range prev {
		seen[m.ID] = struct{}{}
	}
	for _, m := range next {
		if _, ok := seen[m.ID]; ok {
			delete(seen, m.ID)
			continue
		}
		added = append(added, m.ID)
	}
	for _, m := range prev {
		if _, ok := seen[m.ID]; ok {
			removed = append(removed, m.ID)
		}
	}
	return added, removed
}
