package usecase

import (
	"strings"

	"stationear/internal/domain"
	"stationear/internal/keywords"
)

// TextRewriter corrects transcript text before display.
type TextRewriter interface {
	Apply(text string) string
}

// Digest is the view data derived from a session result.
type Digest struct {
	Summary string        `json:"summary"`
	Total   int           `json:"totalAnnouncements"`
	Entries []DigestEntry `json:"entries"`

	// Latest is the entry with the highest announcement id.
	Latest *DigestEntry `json:"latest,omitempty"`
	// Current comes from the newest entry that carries structured info.
	Current *domain.AnnouncementInfo `json:"current,omitempty"`
}

type DigestEntry struct {
	AnnouncementID   int64                    `json:"announcementId"`
	Text             string                   `json:"text"`
	Summary          string                   `json:"summary,omitempty"`
	KeywordsDetected []string                 `json:"keywordsDetected"`
	Matched          []string                 `json:"matched"`
	Info             *domain.AnnouncementInfo `json:"info,omitempty"`
}

// BuildDigest derives display data from result. Entries keep timeline order;
// matched keywords are computed against the corrected text.
func BuildDigest(result domain.SessionResult, registered []string, rewriter TextRewriter) Digest {
	digest := Digest{
		Summary: strings.TrimSpace(result.Summary),
		Total:   result.TotalAnnouncements,
		Entries: make([]DigestEntry, 0, len(result.Timeline)),
	}
	if digest.Total == 0 {
		digest.Total = len(result.Timeline)
	}

	latest := -1
	var currentID int64
	for _, item := range result.Timeline {
		text := strings.TrimSpace(item.FullText)
		if rewriter != nil {
			text = rewriter.Apply(text)
		}
		entry := DigestEntry{
			AnnouncementID:   item.AnnouncementID,
			Text:             text,
			Summary:          strings.TrimSpace(item.Summary),
			KeywordsDetected: item.KeywordsDetected,
			Matched:          keywords.MatchedKeywords(text, registered),
			Info:             item.Info,
		}
		digest.Entries = append(digest.Entries, entry)

		index := len(digest.Entries) - 1
		if latest < 0 || item.AnnouncementID > digest.Entries[latest].AnnouncementID {
			latest = index
		}
		if !item.Info.IsEmpty() && (digest.Current == nil || item.AnnouncementID > currentID) {
			digest.Current = item.Info
			currentID = item.AnnouncementID
		}
	}
	if latest >= 0 {
		entry := digest.Entries[latest]
		digest.Latest = &entry
	}
	return digest
}
