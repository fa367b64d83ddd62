package faqtune

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Special vocabulary entries. The vocab file must contain all four.
const (
	PadToken = "[PAD]"
	UnkToken = "[UNK]"
	ClsToken = "[CLS]"
	SepToken = "[SEP]"
)

// maxCharsPerWord caps the greedy wordpiece search so pathological input
// cannot blow up Encode.
const maxCharsPerWord = 100

// Tokenizer is a WordPiece tokenizer over a fixed pretrained vocabulary,
// loaded from a one-token-per-line vocab.txt file. Continuation pieces carry
// the ## prefix.
type Tokenizer struct {
	tokenTable []string
	ids        map[string]int32
	pad        int32
	unk        int32
	cls        int32
	sep        int32
	init       bool
}

// NewTokenizer loads a vocabulary file. Token ids are line numbers.
func NewTokenizer(filename string) (Tokenizer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Tokenizer{}, err
	}
	defer f.Close()
	tok := Tokenizer{
		ids: make(map[string]int32),
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r")
		if _, ok := tok.ids[token]; ok {
			return Tokenizer{}, fmt.Errorf("duplicate token %q at id %d", token, len(tok.tokenTable))
		}
		tok.ids[token] = int32(len(tok.tokenTable))
		tok.tokenTable = append(tok.tokenTable, token)
	}
	if err := scanner.Err(); err != nil {
		return Tokenizer{}, err
	}
	for _, special := range []struct {
		name string
		id   *int32
	}{
		{PadToken, &tok.pad},
		{UnkToken, &tok.unk},
		{ClsToken, &tok.cls},
		{SepToken, &tok.sep},
	} {
		id, ok := tok.ids[special.name]
		if !ok {
			return Tokenizer{}, fmt.Errorf("vocabulary is missing %s", special.name)
		}
		*special.id = id
	}
	tok.init = true
	return tok, nil
}

// VocabSize returns the number of entries in the vocabulary.
func (t Tokenizer) VocabSize() int {
	return len(t.tokenTable)
}

// PadID returns the id of the padding token.
func (t Tokenizer) PadID() int32 {
	return t.pad
}

// Fingerprint returns a stable content hash of the vocabulary. The feature
// cache keys on it so a vocabulary swap invalidates cached features.
func (t Tokenizer) Fingerprint() string {
	h := sha256.New()
	for _, token := range t.tokenTable {
		h.Write([]byte(token))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// basicTokenize lowercases, splits on whitespace and breaks out punctuation
// and CJK characters as standalone words.
func basicTokenize(text string) []string {
	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.Is(unicode.Han, r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}

// wordpiece splits one word into vocabulary pieces by greedy longest match.
// A word with no decomposition becomes a single [UNK].
func (t Tokenizer) wordpiece(word string) []int32 {
	runes := []rune(word)
	if len(runes) > maxCharsPerWord {
		return []int32{t.unk}
	}
	var pieces []int32
	start := 0
	for start < len(runes) {
		end := len(runes)
		var cur int32 = -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.ids[piece]; ok {
				cur = id
				break
			}
			end--
		}
		if cur < 0 {
			return []int32{t.unk}
		}
		pieces = append(pieces, cur)
		start = end
	}
	return pieces
}

// Encode tokenizes free text into vocabulary ids, without special tokens.
func (t Tokenizer) Encode(text string) []int32 {
	var out []int32
	for _, word := range basicTokenize(text) {
		out = append(out, t.wordpiece(word)...)
	}
	return out
}

// EncodePair tokenizes a (text A, text B) pair into the fixed-length
// [CLS] a [SEP] b [SEP] layout: ids, attention mask and segment ids, all of
// length maxLen. The longer of the two sides is truncated first until the
// pair fits, then the sequence is right-padded with [PAD].
func (t Tokenizer) EncodePair(textA, textB string, maxLen int) (ids, attentionMask, segmentIDs []int32) {
	a := t.Encode(textA)
	b := t.Encode(textB)
	// room for [CLS] and two [SEP]
	for len(a)+len(b) > maxLen-3 && len(a)+len(b) > 0 {
		if len(a) > len(b) {
			a = a[:len(a)-1]
		} else {
			b = b[:len(b)-1]
		}
	}
	ids = make([]int32, 0, maxLen)
	segmentIDs = make([]int32, 0, maxLen)
	ids = append(ids, t.cls)
	segmentIDs = append(segmentIDs, 0)
	ids = append(ids, a...)
	for range a {
		segmentIDs = append(segmentIDs, 0)
	}
	ids = append(ids, t.sep)
	segmentIDs = append(segmentIDs, 0)
	ids = append(ids, b...)
	for range b {
		segmentIDs = append(segmentIDs, 1)
	}
	ids = append(ids, t.sep)
	segmentIDs = append(segmentIDs, 1)
	// a maxLen below the three special tokens truncates the skeleton itself
	if len(ids) > maxLen {
		ids = ids[:maxLen]
		segmentIDs = segmentIDs[:maxLen]
	}

	attentionMask = make([]int32, len(ids), maxLen)
	for i := range attentionMask {
		attentionMask[i] = 1
	}
	// pad after content; padding carries segment id 0
	for len(ids) < maxLen {
		ids = append(ids, t.pad)
		attentionMask = append(attentionMask, 0)
		segmentIDs = append(segmentIDs, 0)
	}
	return ids, attentionMask, segmentIDs
}

// Decode maps ids back to their vocabulary strings, mostly for debugging.
func (t Tokenizer) Decode(tokens []int32) (string, error) {
	var sb strings.Builder
	for i, token := range tokens {
		if token < 0 || token >= int32(len(t.tokenTable)) {
			return "", fmt.Errorf("not valid token: %d", token)
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.tokenTable[token])
	}
	return sb.String(), nil
}

// Save writes the vocabulary into dir as vocab.txt, the same format
// NewTokenizer reads. Used when checkpointing a best model.
func (t Tokenizer) Save(dir string) error {
	if !t.init {
		return fmt.Errorf("tokenizer not initialised")
	}
	path := filepath.Join(dir, "vocab.txt")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, token := range t.tokenTable {
		fmt.Fprintln(w, token)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write vocabulary: %w", err)
	}
	return f.Close()
}
