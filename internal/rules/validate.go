package rules

import (
	"fmt"
	"regexp"
)

var (
	testDeclaration = regexp.MustCompile(`\b(?:test|it)(?:\.\w+)?\s*\(`)
	assertion       = regexp.MustCompile(`\bexpect\s*\(|\bassert\b`)
)

// Validate checks a rewrite before it is accepted and returns every failed
// check. An empty result means the rewrite passes.
func Validate(original, rewritten string) []string {
	var problems []string
	if original == rewritten {
		problems = append(problems, "source unchanged")
	}
	if err := CheckBalanced(rewritten); err != nil {
		problems = append(problems, err.Error())
	}
	if !testDeclaration.MatchString(rewritten) {
		problems = append(problems, "test declaration missing")
	}
	if !assertion.MatchString(rewritten) {
		problems = append(problems, "assertion missing")
	}
	return problems
}

var closers = map[rune]rune{')': '(', ']': '[', '}': '{'}

// CheckBalanced verifies brace, paren and bracket nesting outside string
// literals and comments.
func CheckBalanced(src string) error {
	var stack []rune
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '\'', '"', '`':
			i = skipString(runes, i)
		case '/':
			if i+1 < len(runes) && runes[i+1] == '/' {
				for i < len(runes) && runes[i] != '\n' {
					i++
				}
			} else if i+1 < len(runes) && runes[i+1] == '*' {
				i += 2
				for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
					i++
				}
				i++
			}
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != closers[r] {
				return fmt.Errorf("unbalanced %q at offset %d", r, i)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q", stack[len(stack)-1])
	}
	return nil
}

// skipString returns the index of the closing quote of the literal that
// starts at i, or the last index if it is unterminated.
func skipString(runes []rune, i int) int {
	quote := runes[i]
	for j := i + 1; j < len(runes); j++ {
		switch runes[j] {
		case '\\':
			j++
		case quote:
			return j
		case '\n':
			if quote != '`' {
				return j
			}
		}
	}
	return len(runes) - 1
}
