package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
	"github.com/Shivanand-hulikatti/digital-library/internal/repository"
)

const (
	maxChatMessage = 1000
	maxChatResults = 5
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "you": true, "any": true,
	"have": true, "has": true, "book": true, "books": true, "with": true, "about": true,
	"what": true, "which": true, "can": true, "does": true, "there": true, "available": true,
	"library": true, "read": true, "want": true, "show": true, "find": true, "some": true,
}

// ChatService answers catalog questions from the live catalog by keyword
// match.
type ChatService struct {
	catalog repository.CatalogStore
}

// NewChatService constructs a ChatService.
func NewChatService(catalog repository.CatalogStore) *ChatService {
	return &ChatService{catalog: catalog}
}

func keywords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 3 && !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

// Answer replies to a free-text message.
func (s *ChatService) Answer(ctx context.Context, message string) (*model.ChatResponse, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, model.Validationf("message is required")
	}
	if len(message) > maxChatMessage {
		return nil, model.Validationf("message must be at most %d characters", maxChatMessage)
	}

	words := keywords(message)
	if len(words) == 0 {
		return &model.ChatResponse{Response: "Ask me about a title, an author or a category and I will look it up in the catalog."}, nil
	}

	books, err := s.catalog.ListBooks(ctx, model.BookFilter{})
	if err != nil {
		return nil, err
	}

	type match struct {
		book  model.Book
		score int
	}
	var matches []match
	for _, b := range books {
		index := make(map[string]bool)
		for _, w := range keywords(b.Title + " " + b.Author + " " + b.Category) {
			index[w] = true
		}
		score := 0
		for _, w := range words {
			if index[w] {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, match{book: b, score: score})
		}
	}

	if len(matches) == 0 {
		return &model.ChatResponse{Response: "I could not find anything matching that in the catalog. You can ask the library to acquire it with a new book request."}, nil
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > maxChatResults {
		matches = matches[:maxChatResults]
	}

	var sb strings.Builder
	sb.WriteString("Here is what I found:")
	for _, m := range matches {
		status := "available"
		if m.book.AvailableCopies == 0 {
			status = "all copies issued"
		}
		fmt.Fprintf(&sb, "\n- %s by %s", m.book.Title, m.book.Author)
		if m.book.Category != "" {
			fmt.Fprintf(&sb, " [%s]", m.book.Category)
		}
		fmt.Fprintf(&sb, " (%s, %d of %d copies)", status, m.book.AvailableCopies, m.book.TotalCopies)
	}
	return &model.ChatResponse{Response: sb.String()}, nil
}
