// Package token implements a lossless SQL tokenizer: concatenating the
// Lexeme of every Token in a Stream reproduces the original source exactly.
// It never errors; malformed strings or comments simply run to EOF.
package token

import "strings"

// Kind classifies a Token.
type Kind int

const (
	KindWhitespace Kind = iota
	KindIdent
	KindPunct
	KindString
	KindCommentLine
	KindCommentBlock
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindWhitespace:
		return "ws"
	case KindIdent:
		return "ident"
	case KindPunct:
		return "punct"
	case KindString:
		return "string"
	case KindCommentLine:
		return "comment_line"
	case KindCommentBlock:
		return "comment_block"
	default:
		return "other"
	}
}

// Token is one lexeme with its kind. Concatenating Lexeme across a Stream
// reproduces the source text exactly.
type Token struct {
	Kind   Kind
	Lexeme string
}

// Other constructs a synthesised replacement token. Downstream passes use
// this kind for substitutions so re-tokenizing the result remains stable.
func Other(text string) Token { return Token{Kind: KindOther, Lexeme: text} }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || c == '$'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// Tokenize produces a lossless token stream from SQL text. It never fails.
func Tokenize(sql string) []Token {
	var out []Token
	n := len(sql)
	i := 0

	for i < n {
		c := sql[i]

		switch {
		case isSpace(c):
			start := i
			for i < n && isSpace(sql[i]) {
				i++
			}
			out = append(out, Token{Kind: KindWhitespace, Lexeme: sql[start:i]})

		case c == '-' && i+1 < n && sql[i+1] == '-':
			start := i
			for i < n && sql[i] != '\n' {
				i++
			}
			out = append(out, Token{Kind: KindCommentLine, Lexeme: sql[start:i]})

		case c == '/' && i+1 < n && sql[i+1] == '*':
			start := i
			i += 2
			for i+1 < n && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			if i+1 < n {
				i += 2 // consume closing */
			} else {
				i = n // unterminated: run to EOF
			}
			out = append(out, Token{Kind: KindCommentBlock, Lexeme: sql[start:i]})

		case c == '\'':
			lex := scanQuoted(sql, &i, '\'')
			out = append(out, Token{Kind: KindString, Lexeme: lex})

		case c == '"':
			lex := scanQuoted(sql, &i, '"')
			out = append(out, Token{Kind: KindString, Lexeme: lex})

		case isIdentStart(c):
			start := i
			for i < n && isIdentCont(sql[i]) {
				i++
			}
			out = append(out, Token{Kind: KindIdent, Lexeme: sql[start:i]})

		default:
			out = append(out, Token{Kind: KindPunct, Lexeme: string(c)})
			i++
		}
	}

	return out
}

// scanQuoted consumes a quoted run starting at sql[*i] == quote, handling a
// doubled quote as an embedded literal quote. Runs to EOF if unterminated.
func scanQuoted(sql string, i *int, quote byte) string {
	n := len(sql)
	start := *i
	*i++ // consume opening quote
	for *i < n {
		if sql[*i] == quote {
			if *i+1 < n && sql[*i+1] == quote {
				*i += 2 // doubled quote: embedded literal quote
				continue
			}
			*i++ // consume closing quote
			return sql[start:*i]
		}
		*i++
	}
	return sql[start:*i] // unterminated: run to EOF
}

// Concat reproduces the source text from a token stream.
func Concat(toks []Token) string {
	var b strings.Builder
	for _, t := range toks {
		b.WriteString(t.Lexeme)
	}
	return b.String()
}

// SkipWS returns the next index at or after i whose token is not whitespace.
func SkipWS(toks []Token, i int) int {
	for i < len(toks) && toks[i].Kind == KindWhitespace {
		i++
	}
	return i
}

// IdentEquals reports whether tok is an ident token matching word case-insensitively.
func IdentEquals(tok Token, word string) bool {
	return tok.Kind == KindIdent && strings.EqualFold(tok.Lexeme, word)
}

// MatchParen returns the index of the punct token matching toks[open] (which
// must be "("), or -1 if unterminated.
func MatchParen(toks []Token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		if toks[i].Kind != KindPunct {
			continue
		}
		switch toks[i].Lexeme {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// SplitTopLevelCommas splits toks on commas at paren depth 0, trimming
// leading/trailing whitespace tokens from each resulting argument.
func SplitTopLevelCommas(toks []Token) [][]Token {
	var args [][]Token
	depth := 0
	start := 0
	for i, t := range toks {
		if t.Kind != KindPunct {
			continue
		}
		switch t.Lexeme {
		case "(":
			depth++
		case ")":
			depth--
		case ",":
			if depth == 0 {
				args = append(args, toks[start:i])
				start = i + 1
			}
		}
	}
	if start <= len(toks) {
		args = append(args, toks[start:])
	}

	var trimmed [][]Token
	for _, a := range args {
		lo, hi := 0, len(a)
		for lo < hi && a[lo].Kind == KindWhitespace {
			lo++
		}
		for hi > lo && a[hi-1].Kind == KindWhitespace {
			hi--
		}
		if lo == hi {
			continue
		}
		trimmed = append(trimmed, a[lo:hi])
	}
	return trimmed
}

// Unquote strips the surrounding quotes from a string token's lexeme and
// collapses doubled embedded quotes back to one.
func Unquote(lexeme string) string {
	if len(lexeme) < 2 {
		return lexeme
	}
	quote := lexeme[0]
	inner := lexeme[1 : len(lexeme)-1]
	doubled := string(quote) + string(quote)
	return strings.ReplaceAll(inner, doubled, string(quote))
}
