// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// tokenizedInput is the model-ready view of one prompt.
type tokenizedInput struct {
	inputIDs      []int64
	attentionMask []int64
	tokenTypeIDs  []int64
}

// wordpieceTokenizer is a greedy longest-match WordPiece tokenizer for
// BERT-style models.
type wordpieceTokenizer struct {
	vocab map[string]int64

	clsID int64
	sepID int64
	unkID int64
}

// newWordpieceTokenizer loads a one-token-per-line vocabulary file. An empty
// or unreadable path falls back to a built-in minimal vocabulary, which is
// enough to exercise the pipeline but degrades embedding quality.
func newWordpieceTokenizer(vocabPath string) (*wordpieceTokenizer, error) {
	t := &wordpieceTokenizer{vocab: make(map[string]int64)}

	if vocabPath == "" {
		t.loadMinimalVocab()
		return t, nil
	}
	file, err := os.Open(vocabPath)
	if err != nil {
		t.loadMinimalVocab()
		return t, nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var id int64
	for scanner.Scan() {
		t.vocab[scanner.Text()] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	t.bindSpecialTokens()
	return t, nil
}

func (t *wordpieceTokenizer) loadMinimalVocab() {
	minimal := []string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]",
		"the", "a", "an", "is", "are", "to", "of", "in", "for", "on",
		"with", "and", "or", "not", "this", "that", "it", "be", "have",
		"what", "which", "who", "where", "when", "why", "how",
		"write", "create", "build", "help", "explain", "code", "function",
		"error", "fix", "test", "data", "file", "model", "cache",
		"##s", "##ed", "##ing", "##er", "##ly", "##tion",
	}
	for i, token := range minimal {
		t.vocab[token] = int64(i)
	}
	t.bindSpecialTokens()
}

func (t *wordpieceTokenizer) bindSpecialTokens() {
	t.clsID = t.vocab["[CLS]"]
	t.sepID = t.vocab["[SEP]"]
	t.unkID = t.vocab["[UNK]"]
}

// tokenize lowercases, splits punctuation, applies WordPiece and wraps the
// result in [CLS] ... [SEP], truncated to maxLength.
func (t *wordpieceTokenizer) tokenize(text string, maxLength int) tokenizedInput {
	words := strings.Fields(splitPunct(strings.ToLower(text)))

	ids := []int64{t.clsID}
	for _, word := range words {
		ids = append(ids, t.tokenizeWord(word)...)
		if len(ids) >= maxLength-1 {
			break
		}
	}
	if len(ids) > maxLength-1 {
		ids = ids[:maxLength-1]
	}
	ids = append(ids, t.sepID)

	mask := make([]int64, len(ids))
	types := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return tokenizedInput{inputIDs: ids, attentionMask: mask, tokenTypeIDs: types}
}

// tokenizeWord greedily matches the longest known subword, prefixing
// continuations with "##".
func (t *wordpieceTokenizer) tokenizeWord(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{id}
	}
	var ids []int64
	start := 0
	for start < len(word) {
		matched := false
		for end := len(word); end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				ids = append(ids, id)
				start = end
				matched = true
				break
			}
		}
		if !matched {
			ids = append(ids, t.unkID)
			start++
		}
	}
	if len(ids) == 0 {
		return []int64{t.unkID}
	}
	return ids
}

// splitPunct pads punctuation with spaces so it tokenizes separately.
func splitPunct(text string) string {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsPunct(r) {
			b.WriteRune(' ')
			b.WriteRune(r)
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
