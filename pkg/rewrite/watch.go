package rewrite

import (
	"strings"

	"github.com/user/semsql"
	"github.com/user/semsql/pkg/token"
)

// ParseWatch parses one of the WATCH commands:
//
//	CREATE WATCH name AS query [CASCADE 'path' | SIGNAL 'name' | SQL 'stmt'] [EVERY 'interval'] [DESCRIPTION 'text']
//	SHOW WATCHES
//	DROP WATCH name
//	TRIGGER WATCH name
//	ALTER WATCH name SET field = value
//	DESCRIBE WATCH name
//
// Only parsing is implemented here; the reactive poller that would actually
// run a watch is an external collaborator.
func ParseWatch(sql string) (semsql.WatchDirective, bool) {
	toks := token.Tokenize(strings.TrimSpace(sql))
	i := token.SkipWS(toks, 0)
	if i >= len(toks) || toks[i].Kind != token.KindIdent {
		return semsql.WatchDirective{}, false
	}

	switch strings.ToUpper(toks[i].Lexeme) {
	case "SHOW":
		j := token.SkipWS(toks, i+1)
		if j < len(toks) && token.IdentEquals(toks[j], "WATCHES") {
			return semsql.WatchDirective{Command: "SHOW"}, true
		}
		return semsql.WatchDirective{}, false

	case "CREATE":
		return parseCreateWatch(toks, i)

	case "DROP":
		name, ok := expectWatchThenName(toks, i)
		if !ok {
			return semsql.WatchDirective{}, false
		}
		return semsql.WatchDirective{Command: "DROP", Name: name}, true

	case "TRIGGER":
		name, ok := expectWatchThenName(toks, i)
		if !ok {
			return semsql.WatchDirective{}, false
		}
		return semsql.WatchDirective{Command: "TRIGGER", Name: name}, true

	case "DESCRIBE":
		name, ok := expectWatchThenName(toks, i)
		if !ok {
			return semsql.WatchDirective{}, false
		}
		return semsql.WatchDirective{Command: "DESCRIBE", Name: name}, true

	case "ALTER":
		return parseAlterWatch(toks, i)

	default:
		return semsql.WatchDirective{}, false
	}
}

// expectWatchThenName matches `WATCH <ident>` starting at keywordIdx (the
// command keyword) and returns the watch name.
func expectWatchThenName(toks []token.Token, keywordIdx int) (string, bool) {
	j := token.SkipWS(toks, keywordIdx+1)
	if j >= len(toks) || !token.IdentEquals(toks[j], "WATCH") {
		return "", false
	}
	k := token.SkipWS(toks, j+1)
	if k >= len(toks) || toks[k].Kind != token.KindIdent {
		return "", false
	}
	return toks[k].Lexeme, true
}

func parseCreateWatch(toks []token.Token, createIdx int) (semsql.WatchDirective, bool) {
	name, ok := expectWatchThenName(toks, createIdx)
	if !ok {
		return semsql.WatchDirective{}, false
	}
	wd := semsql.WatchDirective{Command: "CREATE", Name: name}

	// Advance past WATCH <name>.
	j := token.SkipWS(toks, createIdx+1) // at WATCH
	j = token.SkipWS(toks, j+1)          // at name
	j++

	for j < len(toks) {
		j = token.SkipWS(toks, j)
		if j >= len(toks) {
			break
		}
		tok := toks[j]
		if tok.Kind != token.KindIdent {
			j++
			continue
		}
		switch strings.ToUpper(tok.Lexeme) {
		case "AS":
			start := token.SkipWS(toks, j+1)
			end := findClauseEnd(toks, start, []string{"CASCADE", "SIGNAL", "SQL", "EVERY", "DESCRIPTION"})
			wd.Query = strings.TrimSpace(token.Concat(toks[start:end]))
			j = end
		case "CASCADE", "SIGNAL", "SQL":
			wd.ActionType = strings.ToLower(tok.Lexeme)
			k := token.SkipWS(toks, j+1)
			if k < len(toks) && toks[k].Kind == token.KindString {
				wd.ActionSpec = token.Unquote(toks[k].Lexeme)
				j = k + 1
			} else {
				j++
			}
		case "EVERY":
			k := token.SkipWS(toks, j+1)
			if k < len(toks) && toks[k].Kind == token.KindString {
				wd.PollInterval = token.Unquote(toks[k].Lexeme)
				j = k + 1
			} else {
				j++
			}
		case "DESCRIPTION":
			k := token.SkipWS(toks, j+1)
			if k < len(toks) && toks[k].Kind == token.KindString {
				wd.Description = token.Unquote(toks[k].Lexeme)
				j = k + 1
			} else {
				j++
			}
		default:
			j++
		}
	}
	return wd, true
}

func parseAlterWatch(toks []token.Token, alterIdx int) (semsql.WatchDirective, bool) {
	name, ok := expectWatchThenName(toks, alterIdx)
	if !ok {
		return semsql.WatchDirective{}, false
	}
	j := token.SkipWS(toks, alterIdx+1)
	j = token.SkipWS(toks, j+1)
	j++

	j = token.SkipWS(toks, j)
	if j >= len(toks) || !token.IdentEquals(toks[j], "SET") {
		return semsql.WatchDirective{}, false
	}
	j = token.SkipWS(toks, j+1)
	if j >= len(toks) || toks[j].Kind != token.KindIdent {
		return semsql.WatchDirective{}, false
	}
	field := toks[j].Lexeme
	j = token.SkipWS(toks, j+1)
	if j >= len(toks) || toks[j].Lexeme != "=" {
		return semsql.WatchDirective{}, false
	}
	j = token.SkipWS(toks, j+1)
	if j >= len(toks) {
		return semsql.WatchDirective{}, false
	}
	var value string
	if toks[j].Kind == token.KindString {
		value = token.Unquote(toks[j].Lexeme)
	} else {
		value = strings.TrimSpace(token.Concat(toks[j:]))
	}

	return semsql.WatchDirective{
		Command:  "ALTER",
		Name:     name,
		SetField: field,
		SetValue: value,
	}, true
}

// findClauseEnd scans toks from start for the next top-level keyword in
// stopWords, returning its index (or len(toks) if none found).
func findClauseEnd(toks []token.Token, start int, stopWords []string) int {
	for i := start; i < len(toks); i++ {
		if toks[i].Kind != token.KindIdent {
			continue
		}
		for _, w := range stopWords {
			if token.IdentEquals(toks[i], w) {
				return i
			}
		}
	}
	return len(toks)
}
