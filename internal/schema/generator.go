package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
)

const (
	defaultNumberSpan    = 1000.0
	defaultMinStringLen  = 5
	defaultMaxStringLen  = 16
	defaultMaxItemsSpan  = 5
	maxAttempts          = 64
	maxPatternRepeat     = 8
	defaultOptionalRatio = 0.5
)

// referenceTime anchors generated timestamps when a seed is set.
var referenceTime = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	// Seed makes generation reproducible. Zero means unseeded.
	Seed int64
	// OptionalProbability is the chance an optional property is included, in [0, 1].
	OptionalProbability float64
	// Clock overrides the time source for date and time formats.
	Clock func() time.Time
}

// DefaultGeneratorOptions returns unseeded options that include optional
// properties half of the time.
func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{OptionalProbability: defaultOptionalRatio}
}

// Generator produces random values that satisfy a Template.
// A Generator is not safe for concurrent use.
type Generator struct {
	rng      *rand.Rand
	optional float64
	clock    func() time.Time
}

// NewGenerator creates a generator. With a non-zero seed, the sequence of
// generated values is deterministic, including timestamps.
func NewGenerator(opts GeneratorOptions) *Generator {
	var src *rand.PCG
	if opts.Seed != 0 {
		src = rand.NewPCG(uint64(opts.Seed), uint64(opts.Seed)^0x9e3779b97f4a7c15)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	clock := opts.Clock
	if clock == nil {
		if opts.Seed != 0 {
			clock = func() time.Time { return referenceTime }
		} else {
			clock = time.Now
		}
	}

	p := opts.OptionalProbability
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	return &Generator{rng: rand.New(src), optional: p, clock: clock}
}

// Generate produces one value for the template. Failures are schema errors:
// the template admits values the generator cannot produce.
func (g *Generator) Generate(t *Template) (interface{}, error) {
	if t == nil || t.Root == nil {
		return nil, fmt.Errorf("template is not compiled")
	}
	v, err := g.generate(t.Root, "#")
	if err != nil {
		return nil, errhandling.NewSchemaError(t.Source, "cannot generate a value", err)
	}
	return v, nil
}

func (g *Generator) generate(n *Node, ptr string) (interface{}, error) {
	if n.HasConst {
		return n.Const, nil
	}
	if len(n.Enum) > 0 {
		return n.Enum[g.rng.IntN(len(n.Enum))], nil
	}

	typ := TypeString
	if len(n.Types) > 0 {
		typ = n.Types[g.rng.IntN(len(n.Types))]
	}

	switch typ {
	case TypeObject:
		return g.object(n, ptr)
	case TypeArray:
		return g.array(n, ptr)
	case TypeString:
		return g.text(n, ptr)
	case TypeInteger:
		return g.integer(n, ptr)
	case TypeNumber:
		return g.number(n, ptr)
	case TypeBoolean:
		return g.rng.IntN(2) == 1, nil
	case TypeNull:
		return nil, nil
	default:
		return nil, fmt.Errorf("%s: unsupported type %q", ptr, typ)
	}
}

func (g *Generator) object(n *Node, ptr string) (interface{}, error) {
	out := make(map[string]interface{}, len(n.PropertyNames))
	for _, name := range n.PropertyNames {
		if !n.IsRequired(name) && g.rng.Float64() >= g.optional {
			continue
		}
		v, err := g.generate(n.Properties[name], ptr+"/properties/"+escapePointer(name))
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	// Required names without a declared property schema get a plain string.
	for _, name := range n.Required {
		if _, ok := out[name]; ok {
			continue
		}
		out[name] = g.words(defaultMinStringLen + g.rng.IntN(defaultMaxStringLen-defaultMinStringLen+1))
	}
	return out, nil
}

func (g *Generator) array(n *Node, ptr string) (interface{}, error) {
	lo := 0
	if n.MinItems != nil {
		lo = *n.MinItems
	}
	hi := lo + defaultMaxItemsSpan
	if n.MaxItems != nil {
		hi = *n.MaxItems
	}
	count := lo + g.rng.IntN(hi-lo+1)

	items := n.Items
	if items == nil {
		items = &Node{Types: []string{TypeString}}
	}

	out := make([]interface{}, 0, count)
	seen := make(map[string]bool, count)
	for len(out) < count {
		var v interface{}
		var err error
		attempts := 0
		for {
			v, err = g.generate(items, ptr+"/items")
			if err != nil {
				return nil, err
			}
			if !n.UniqueItems {
				break
			}
			key, _ := json.Marshal(v)
			if !seen[string(key)] {
				seen[string(key)] = true
				break
			}
			attempts++
			if attempts >= maxAttempts {
				if len(out) >= lo {
					return out, nil
				}
				return nil, fmt.Errorf("%s: could not generate %d unique items", ptr, lo)
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// bounds returns the inclusive/exclusive numeric range for n.
// A missing bound is placed defaultNumberSpan away from the present one.
func (n *Node) bounds() (lo, hi float64) {
	switch {
	case n.Minimum != nil && n.Maximum != nil:
		return *n.Minimum, *n.Maximum
	case n.Minimum != nil:
		return *n.Minimum, *n.Minimum + defaultNumberSpan
	case n.Maximum != nil:
		return *n.Maximum - defaultNumberSpan, *n.Maximum
	default:
		return 0, defaultNumberSpan
	}
}

// Integers are kept within the float64 values that convert to int64.
const (
	minInt64Float = -9223372036854775808.0
	maxInt64Float = 9223372036854774784.0
)

// integerSteps returns the range [kLo, kHi] of k such that k*step is an
// integer accepted by n. ok is false when there is none.
func (n *Node) integerSteps() (kLo, kHi, step int64, ok bool) {
	flo, fhi := n.bounds()
	lo := math.Ceil(flo)
	if n.ExclusiveMinimum && lo == flo {
		lo++
	}
	hi := math.Floor(fhi)
	if n.ExclusiveMaximum && hi == fhi {
		hi--
	}
	lo = math.Max(lo, minInt64Float)
	hi = math.Min(hi, maxInt64Float)
	if lo > hi {
		return 0, 0, 0, false
	}
	ilo, ihi := int64(lo), int64(hi)

	fstep := 1.0
	if n.MultipleOf != nil {
		fstep = *n.MultipleOf
		if fstep != math.Trunc(fstep) {
			// Non-integral step: pick integers that are also multiples of it.
			fstep = integralMultiple(fstep)
		}
	}
	if fstep > maxInt64Float {
		// Zero is the only multiple that fits.
		return 0, 0, 1, ilo <= 0 && ihi >= 0
	}
	step = int64(fstep)

	kLo, kHi = ilo/step, ihi/step
	if kLo*step < ilo {
		kLo++
	}
	if kHi*step > ihi {
		kHi--
	}
	return kLo, kHi, step, kLo <= kHi
}

// multipleSteps returns the range [kLo, kHi] of k such that k*multipleOf
// is a number accepted by n.
func (n *Node) multipleSteps() (kLo, kHi float64) {
	lo, hi := n.bounds()
	m := *n.MultipleOf
	kLo = math.Ceil(lo / m)
	if n.ExclusiveMinimum && kLo*m <= lo {
		kLo++
	}
	kHi = math.Floor(hi / m)
	if n.ExclusiveMaximum && kHi*m >= hi {
		kHi--
	}
	return kLo, kHi
}

// pickStep returns a uniformly chosen whole number in [kLo, kHi]. Spans too
// wide for Int64N are sampled in float space.
func (g *Generator) pickStep(kLo, kHi float64) float64 {
	span := kHi - kLo
	if span < 1<<62 {
		return kLo + float64(g.rng.Int64N(int64(span)+1))
	}
	k := math.Floor(kLo + g.rng.Float64()*span)
	return math.Min(math.Max(k, kLo), kHi)
}

func (g *Generator) integer(n *Node, ptr string) (interface{}, error) {
	kLo, kHi, step, ok := n.integerSteps()
	if !ok {
		lo, hi := n.bounds()
		return nil, fmt.Errorf("%s: no 64-bit integer in range [%v, %v]", ptr, lo, hi)
	}
	// Unsigned arithmetic covers spans wider than math.MaxInt64.
	var off uint64
	if span := uint64(kHi) - uint64(kLo); span == math.MaxUint64 {
		off = g.rng.Uint64()
	} else {
		off = g.rng.Uint64N(span + 1)
	}
	return int64(uint64(kLo)+off) * step, nil
}

// integralMultiple returns the smallest integer that is a multiple of step.
func integralMultiple(step float64) float64 {
	for i := 1.0; i <= 1e6; i++ {
		v := step * i
		if r := math.Round(v); math.Abs(v-r) < 1e-9 {
			return r
		}
	}
	return math.Ceil(step)
}

func (g *Generator) number(n *Node, ptr string) (interface{}, error) {
	lo, hi := n.bounds()

	if n.MultipleOf != nil {
		m := *n.MultipleOf
		kLo, kHi := n.multipleSteps()
		if kLo > kHi {
			return nil, fmt.Errorf("%s: no multiple of %v in range [%v, %v]", ptr, m, lo, hi)
		}
		return roundToStep(g.pickStep(kLo, kHi)*m, m), nil
	}

	for i := 0; i < maxAttempts; i++ {
		v := lo + g.rng.Float64()*(hi-lo)
		if r := math.Round(v*100) / 100; inRange(r, n, lo, hi) {
			return r, nil
		}
		if inRange(v, n, lo, hi) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%s: could not generate a number in range [%v, %v]", ptr, lo, hi)
}

func inRange(v float64, n *Node, lo, hi float64) bool {
	if v < lo || v > hi {
		return false
	}
	if n.ExclusiveMinimum && v == lo {
		return false
	}
	if n.ExclusiveMaximum && v == hi {
		return false
	}
	return true
}

// roundToStep rounds v to the number of decimals in step so that its JSON
// text is an exact multiple.
func roundToStep(v, step float64) float64 {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	decimals := 0
	if i := strings.IndexByte(s, '.'); i >= 0 {
		decimals = len(s) - i - 1
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', decimals, 64), 64)
	if err != nil {
		return v
	}
	return r
}

func (g *Generator) text(n *Node, ptr string) (interface{}, error) {
	lo, hi := n.lengthBounds()

	if n.patternTree != nil {
		for i := 0; i < maxAttempts; i++ {
			s := g.fromPattern(n.patternTree)
			l := runeLen(s)
			if (n.MinLength == nil || l >= lo) && (n.MaxLength == nil || l <= hi) && n.patternRE.MatchString(s) {
				return s, nil
			}
		}
		if n.MinLength == nil && n.MaxLength == nil {
			return nil, fmt.Errorf("%s: could not generate a string matching %q", ptr, n.Pattern)
		}
		return nil, fmt.Errorf("%s: could not generate a string matching %q within length [%d, %d]", ptr, n.Pattern, lo, hi)
	}

	if gen, ok := formatGenerators[n.Format]; ok {
		for i := 0; i < maxAttempts; i++ {
			s, err := gen(g)
			if err != nil {
				return nil, fmt.Errorf("%s: format %q: %w", ptr, n.Format, err)
			}
			if l := runeLen(s); (n.MinLength == nil || l >= lo) && (n.MaxLength == nil || l <= hi) {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%s: format %q cannot satisfy length [%d, %d]", ptr, n.Format, lo, hi)
	}

	return g.words(lo + g.rng.IntN(hi-lo+1)), nil
}

// lengthBounds returns the string length range, defaulting to a short word-like span.
func (n *Node) lengthBounds() (lo, hi int) {
	switch {
	case n.MinLength != nil && n.MaxLength != nil:
		return *n.MinLength, *n.MaxLength
	case n.MinLength != nil:
		lo = *n.MinLength
		return lo, max(defaultMaxStringLen, lo+defaultMaxStringLen-defaultMinStringLen)
	case n.MaxLength != nil:
		hi = *n.MaxLength
		return min(defaultMinStringLen, hi), hi
	default:
		return defaultMinStringLen, defaultMaxStringLen
	}
}

var vocabulary = []string{
	"alpha", "bravo", "camera", "delta", "edge", "frame", "gate", "harbor",
	"input", "lane", "motion", "night", "object", "person", "queue", "river",
	"sensor", "track", "unit", "vehicle", "window", "zone",
}

// words builds a lowercase string of exactly n runes from the vocabulary.
func (g *Generator) words(n int) string {
	if n <= 0 {
		return ""
	}
	var sb strings.Builder
	for sb.Len() < n {
		if sb.Len() > 0 {
			sb.WriteByte('_')
		}
		sb.WriteString(vocabulary[g.rng.IntN(len(vocabulary))])
	}
	s := sb.String()[:n]
	if strings.HasSuffix(s, "_") {
		s = s[:n-1] + "x"
	}
	return s
}

func runeLen(s string) int {
	return len([]rune(s))
}
