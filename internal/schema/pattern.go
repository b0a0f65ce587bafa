package schema

import (
	"regexp/syntax"
	"strings"
	"unicode"
)

const (
	printableLo = 0x20
	printableHi = 0x7e
)

// fromPattern walks a parsed regular expression and emits one string it matches.
// Assertions (anchors, word boundaries) produce no output.
func (g *Generator) fromPattern(re *syntax.Regexp) string {
	var sb strings.Builder
	g.walkPattern(&sb, re)
	return sb.String()
}

func (g *Generator) walkPattern(sb *strings.Builder, re *syntax.Regexp) {
	switch re.Op {
	case syntax.OpLiteral:
		for _, r := range re.Rune {
			if re.Flags&syntax.FoldCase != 0 && g.rng.IntN(2) == 1 {
				r = unicode.SimpleFold(r)
			}
			sb.WriteRune(r)
		}
	case syntax.OpCharClass:
		sb.WriteRune(g.pickFromClass(re.Rune))
	case syntax.OpAnyCharNotNL, syntax.OpAnyChar:
		sb.WriteRune(rune(printableLo + g.rng.IntN(printableHi-printableLo+1)))
	case syntax.OpCapture:
		g.walkPattern(sb, re.Sub[0])
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			g.walkPattern(sb, sub)
		}
	case syntax.OpAlternate:
		g.walkPattern(sb, re.Sub[g.rng.IntN(len(re.Sub))])
	case syntax.OpStar:
		g.repeat(sb, re.Sub[0], 0, maxPatternRepeat)
	case syntax.OpPlus:
		g.repeat(sb, re.Sub[0], 1, maxPatternRepeat)
	case syntax.OpQuest:
		g.repeat(sb, re.Sub[0], 0, 1)
	case syntax.OpRepeat:
		hi := re.Max
		if hi < 0 {
			hi = re.Min + maxPatternRepeat
		}
		g.repeat(sb, re.Sub[0], re.Min, hi)
	}
}

func (g *Generator) repeat(sb *strings.Builder, re *syntax.Regexp, lo, hi int) {
	n := lo + g.rng.IntN(hi-lo+1)
	for i := 0; i < n; i++ {
		g.walkPattern(sb, re)
	}
}

// pickFromClass picks a rune from a character class given as [lo, hi] pairs,
// preferring printable ASCII when the class intersects it.
func (g *Generator) pickFromClass(ranges []rune) rune {
	if len(ranges) == 0 {
		return 'x'
	}
	if printable := clampRanges(ranges, printableLo, printableHi); len(printable) > 0 {
		ranges = printable
	}

	total := 0
	for i := 0; i+1 < len(ranges); i += 2 {
		total += int(ranges[i+1]-ranges[i]) + 1
	}
	pick := g.rng.IntN(total)
	for i := 0; i+1 < len(ranges); i += 2 {
		size := int(ranges[i+1]-ranges[i]) + 1
		if pick < size {
			return ranges[i] + rune(pick)
		}
		pick -= size
	}
	return ranges[0]
}

func clampRanges(ranges []rune, lo, hi rune) []rune {
	var out []rune
	for i := 0; i+1 < len(ranges); i += 2 {
		a, b := max(ranges[i], lo), min(ranges[i+1], hi)
		if a <= b {
			out = append(out, a, b)
		}
	}
	return out
}
