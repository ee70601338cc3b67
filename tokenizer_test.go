package fiberscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(t *testing.T, src string) []Token {
	t.Helper()
	tok := NewTokenizer([]byte(src))
	var out []Token
	for {
		tk, err := tok.Next()
		require.NoError(t, err)
		out = append(out, tk)
		if tk.Kind == TokEOF {
			return out
		}
	}
}

func TestTokenizer_Identifiers_Keywords(t *testing.T) {
	toks := scanAll(t, "let x = foo;")
	kinds := make([]TokenKind, len(toks))
	for i, tk := range toks {
		kinds[i] = tk.Kind
	}
	assert.Equal(t, []TokenKind{TokKeyword, TokIdentifier, TokPunct, TokIdentifier, TokPunct, TokEOF}, kinds)
	assert.Equal(t, "let", toks[0].Text)
	assert.Equal(t, "x", toks[1].Text)
}

func TestTokenizer_DollarIdentifier(t *testing.T) {
	toks := scanAll(t, "$ns.key")
	require.Len(t, toks, 4)
	assert.Equal(t, TokIdentifier, toks[0].Kind)
	assert.Equal(t, "$ns", toks[0].Text)
	assert.Equal(t, TokPunct, toks[1].Kind)
	assert.Equal(t, ".", toks[1].Text)
	assert.Equal(t, "key", toks[2].Text)
}

func TestTokenizer_NonKeywordWords(t *testing.T) {
	for _, word := range []string{"of", "from", "finally", "typeof", "directive"} {
		toks := scanAll(t, word)
		require.Len(t, toks, 2)
		assert.Equal(t, TokIdentifier, toks[0].Kind, "%q should lex as a plain identifier", word)
	}
}

func TestTokenizer_Numbers(t *testing.T) {
	toks := scanAll(t, "42 3.14 1e3 2.5e-2")
	require.Len(t, toks, 5)
	assert.Equal(t, TokInteger, toks[0].Kind)
	assert.Equal(t, int64(42), toks[0].IVal)
	assert.Equal(t, TokFloat, toks[1].Kind)
	assert.InDelta(t, 3.14, toks[1].FVal, 1e-9)
	assert.Equal(t, TokFloat, toks[2].Kind)
	assert.InDelta(t, 1000.0, toks[2].FVal, 1e-9)
	assert.Equal(t, TokFloat, toks[3].Kind)
	assert.InDelta(t, 0.025, toks[3].FVal, 1e-9)
}

func TestTokenizer_Strings(t *testing.T) {
	toks := scanAll(t, `"hello\nworld" 'single'`)
	require.Len(t, toks, 3)
	assert.Equal(t, TokString, toks[0].Kind)
	assert.Equal(t, "hello\nworld", toks[0].SVal)
	assert.Equal(t, TokString, toks[1].Kind)
	assert.Equal(t, "single", toks[1].SVal)
}

func TestTokenizer_UnicodeEscape(t *testing.T) {
	toks := scanAll(t, "\"\\u00e9\"")
	require.Len(t, toks, 2)
	assert.Equal(t, "é", toks[0].SVal)
}

func TestTokenizer_UnterminatedString(t *testing.T) {
	tok := NewTokenizer([]byte(`"unterminated`))
	_, err := tok.Next()
	assert.Error(t, err)
}

func TestTokenizer_Punctuators_LongestMatchFirst(t *testing.T) {
	toks := scanAll(t, "=== !== ?? => ...")
	kinds := make([]string, 0, len(toks)-1)
	for _, tk := range toks {
		if tk.Kind == TokPunct {
			kinds = append(kinds, tk.Text)
		}
	}
	assert.Equal(t, []string{"===", "!==", "??", "=>", "..."}, kinds)
}

func TestTokenizer_CommentsSkipped(t *testing.T) {
	toks := scanAll(t, "let x = 1; // trailing comment\n/* block\ncomment */ let y = 2;")
	var kws []string
	for _, tk := range toks {
		if tk.Kind == TokKeyword {
			kws = append(kws, tk.Text)
		}
	}
	assert.Equal(t, []string{"let", "let"}, kws)
}

func TestTokenizer_UnterminatedBlockComment(t *testing.T) {
	tok := NewTokenizer([]byte("/* never closed"))
	_, err := tok.Next()
	assert.Error(t, err)
}

func TestTokenizer_DirectiveHashMarker(t *testing.T) {
	// The '#name' marker form is reserved by the tokenizer but unused
	// by the parser, which recognizes the plain `directive` keyword
	// instead; the tokenizer still needs to scan it without error.
	toks := scanAll(t, "#foo")
	require.Len(t, toks, 2)
	assert.Equal(t, TokDirective, toks[0].Kind)
	assert.Equal(t, "foo", toks[0].Text)
}

func TestTokenKind_String(t *testing.T) {
	assert.Equal(t, "Identifier", TokIdentifier.String())
	assert.Equal(t, "EOF", TokEOF.String())
	assert.Equal(t, "?", TokenKind(999).String())
}
