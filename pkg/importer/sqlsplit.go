package importer

import "strings"

// SplitStatements режет SQL-скрипт на операторы по точке с запятой,
// не ломаясь на строковых литералах, квотированных идентификаторах
// и комментариях обоих видов. Текст комментариев сохраняется в операторах,
// пустые операторы отбрасываются.
func SplitStatements(script string) []string {
	var stmts []string
	var sb strings.Builder

	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateBacktick
		stateLineComment
		stateBlockComment
	)
	state := stateNormal

	flush := func() {
		s := strings.TrimSpace(sb.String())
		sb.Reset()
		if s != "" {
			stmts = append(stmts, s)
		}
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch state {
		case stateNormal:
			switch {
			case r == ';':
				flush()
				continue
			case r == '\'':
				state = stateSingleQuote
			case r == '"':
				state = stateDoubleQuote
			case r == '`':
				state = stateBacktick
			case r == '-' && next == '-':
				state = stateLineComment
			case r == '/' && next == '*':
				state = stateBlockComment
			}
		case stateSingleQuote:
			// удвоенная кавычка - экранирование внутри литерала
			if r == '\'' && next == '\'' {
				sb.WriteRune(r)
				i++
				r = runes[i]
			} else if r == '\'' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if r == '"' {
				state = stateNormal
			}
		case stateBacktick:
			if r == '`' {
				state = stateNormal
			}
		case stateLineComment:
			if r == '\n' {
				state = stateNormal
			}
		case stateBlockComment:
			if r == '*' && next == '/' {
				sb.WriteRune(r)
				sb.WriteRune(next)
				i++
				state = stateNormal
				continue
			}
		}

		sb.WriteRune(r)
	}
	flush()
	return stmts
}
