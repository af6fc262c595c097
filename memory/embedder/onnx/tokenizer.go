package onnx

import (
	"encoding/json"
	"os"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
)

// DefaultMaxLength is the sequence length fed to the model, special tokens
// included.
const DefaultMaxLength = 128

// Tokenizer performs BERT-style WordPiece tokenization against the vocab of
// a Hugging Face tokenizer.json.
type Tokenizer struct {
	vocab    map[string]int
	clsToken int
	sepToken int
	unkToken int
	padToken int
}

// LoadTokenizer reads the WordPiece vocab from a tokenizer.json file.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read tokenizer", goerr.V("path", path))
	}

	var tokenizerData struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizerData); err != nil {
		return nil, goerr.Wrap(err, "failed to parse tokenizer", goerr.V("path", path))
	}
	if len(tokenizerData.Model.Vocab) == 0 {
		return nil, goerr.New("tokenizer has no vocab", goerr.V("path", path))
	}

	return NewTokenizer(tokenizerData.Model.Vocab), nil
}

// NewTokenizer builds a tokenizer over vocab. Special tokens fall back to
// the bert-base-uncased ids when the vocab lacks them.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	lookup := func(token string, fallback int) int {
		if id, ok := vocab[token]; ok {
			return id
		}
		return fallback
	}
	return &Tokenizer{
		vocab:    vocab,
		padToken: lookup("[PAD]", 0),
		unkToken: lookup("[UNK]", 100),
		clsToken: lookup("[CLS]", 101),
		sepToken: lookup("[SEP]", 102),
	}
}

// Tokenize converts text to WordPiece ids without special tokens.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range splitWords(text) {
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		tokens = append(tokens, t.wordPiece(word)...)
	}
	return tokens
}

// Encode returns input ids and attention mask of exactly maxLen entries:
// [CLS] tokens... [SEP] followed by padding.
func (t *Tokenizer) Encode(text string, maxLen int) (ids, mask []int64) {
	if maxLen < 2 {
		maxLen = 2
	}
	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	ids = make([]int64, maxLen)
	mask = make([]int64, maxLen)
	for i := range ids {
		ids[i] = int64(t.padToken)
	}

	ids[0], mask[0] = int64(t.clsToken), 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = int64(t.sepToken), 1
	return ids, mask
}

// wordPiece splits a word into the longest matching vocab pieces. A word
// with any unmatched remainder becomes a single [UNK].
func (t *Tokenizer) wordPiece(word string) []int64 {
	var pieces []int64
	runes := []rune(word)
	start := 0
	for start < len(runes) {
		end := len(runes)
		matched := -1
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				matched = id
				break
			}
			end--
		}
		if matched < 0 {
			return []int64{int64(t.unkToken)}
		}
		pieces = append(pieces, int64(matched))
		start = end
	}
	return pieces
}

// splitWords lowercases text and splits it on whitespace, emitting each
// punctuation rune as its own word.
func splitWords(text string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return words
}
