package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// rule is one compiled substitution.
type rule interface {
	apply(input string) (string, bool)
}

// parseRules compiles a rules file. Blank lines and lines starting with '#' are skipped.
//
//	강남 역 => 강남역
//	s/([0-9]+) 호선/$1호선/g
func parseRules(contents string) ([]rule, error) {
	var parsed []rule
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			r   rule
			err error
		)
		switch {
		case isSedRule(line):
			r, err = parseSedRule(line)
		case strings.Contains(line, "=>"):
			r, err = parseLiteralRule(line)
		default:
			err = errors.New("expected 'from => to' or 's/pattern/replacement/flags'")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		parsed = append(parsed, r)
	}
	return parsed, nil
}

type literalRule struct {
	from string
	to   string
}

func parseLiteralRule(line string) (rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}
	return literalRule{from: from, to: strings.TrimSpace(to)}, nil
}

func (r literalRule) apply(input string) (string, bool) {
	if r.from == r.to || !strings.Contains(input, r.from) {
		return input, false
	}
	return strings.ReplaceAll(input, r.from, r.to), true
}

type sedRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func parseSedRule(line string) (rule, error) {
	delim := line[1]
	pattern, rest, err := cutDelimited(line[2:], delim)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	replacement, flags, err := cutDelimited(rest, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid replacement: %w", err)
	}

	var (
		global bool
		inline string
	)
	for _, flag := range strings.TrimSpace(flags) {
		switch flag {
		case 'g':
			global = true
		case 'i', 'm', 's':
			if !strings.ContainsRune(inline, flag) {
				inline += string(flag)
			}
		default:
			return nil, fmt.Errorf("unsupported flag %q", flag)
		}
	}
	if inline != "" {
		pattern = "(?" + inline + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return sedRule{re: re, replacement: replacement, global: global}, nil
}

func (r sedRule) apply(input string) (string, bool) {
	var output string
	if r.global {
		output = r.re.ReplaceAllString(input, r.replacement)
	} else {
		loc := r.re.FindStringSubmatchIndex(input)
		if loc == nil {
			return input, false
		}
		expanded := r.re.ExpandString(nil, r.replacement, input, loc)
		output = input[:loc[0]] + string(expanded) + input[loc[1]:]
	}
	return output, output != input
}

// cutDelimited splits s at the first unescaped delim. An escaped delimiter
// loses its backslash; other escapes are kept for the regex compiler.
func cutDelimited(s string, delim byte) (string, string, error) {
	var builder strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s):
			if s[i+1] != delim {
				builder.WriteByte('\\')
			}
			builder.WriteByte(s[i+1])
			i++
		case s[i] == delim:
			return builder.String(), s[i+1:], nil
		default:
			builder.WriteByte(s[i])
		}
	}
	return "", "", errors.New("unterminated expression")
}

func isSedRule(line string) bool {
	if len(line) < 2 || line[0] != 's' {
		return false
	}
	delim := line[1]
	return delim < 0x80 && !isWordOrSpace(delim)
}

func isWordOrSpace(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '_' || char == ' ' || char == '\t'
}
