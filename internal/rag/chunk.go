package rag

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	defaultChunkRunes   = 1200
	defaultOverlapRunes = 150
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// splitText cuts text into passages of at most size runes on paragraph
// boundaries. Consecutive passages share up to overlap runes. Paragraphs
// longer than size are split hard.
func splitText(text string, size, overlap int) []string {
	var (
		chunks []string
		cur    []rune
		fresh  int
	)
	emit := func() {
		if fresh == 0 {
			return
		}
		if s := strings.TrimSpace(string(cur)); s != "" {
			chunks = append(chunks, s)
		}
		cur = overlapTail(cur, overlap)
		fresh = 0
	}

	for _, p := range paragraphBreak.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		pr := []rune(p)
		for len(pr) > 0 {
			sep := 0
			if len(cur) > 0 {
				sep = 2
			}
			room := size - len(cur) - sep
			if len(pr) <= room {
				if sep > 0 {
					cur = append(cur, '\n', '\n')
				}
				cur = append(cur, pr...)
				fresh += len(pr)
				break
			}
			if fresh > 0 {
				emit()
				continue
			}
			if room <= 0 {
				cur = nil
				continue
			}
			if sep > 0 {
				cur = append(cur, '\n', '\n')
			}
			cur = append(cur, pr[:room]...)
			fresh += room
			pr = pr[room:]
			emit()
		}
	}
	emit()
	return chunks
}

// overlapTail returns the last n runes of r, starting at a word boundary
// when one exists.
func overlapTail(r []rune, n int) []rune {
	if n <= 0 || len(r) == 0 {
		return nil
	}
	if len(r) > n {
		r = r[len(r)-n:]
	}
	for i, c := range r {
		if unicode.IsSpace(c) {
			tail := []rune(strings.TrimSpace(string(r[i:])))
			if len(tail) > 0 {
				return tail
			}
			break
		}
	}
	return append([]rune(nil), r...)
}
