package schema

import (
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// formatGenerators produce values for every format the validator asserts.
// Formats outside this table are not asserted and fall back to plain strings.
var formatGenerators = map[string]func(g *Generator) (string, error){
	"date-time": func(g *Generator) (string, error) {
		return g.recentTime().Format(time.RFC3339), nil
	},
	"date": func(g *Generator) (string, error) {
		return g.recentTime().Format(time.DateOnly), nil
	},
	"time": func(g *Generator) (string, error) {
		return g.recentTime().Format("15:04:05Z07:00"), nil
	},
	"duration": func(g *Generator) (string, error) {
		return g.duration(), nil
	},
	"period": func(g *Generator) (string, error) {
		return g.recentTime().Format(time.RFC3339) + "/" + g.duration(), nil
	},
	"email":     email,
	"idn-email": email,
	"uuid": func(g *Generator) (string, error) {
		id, err := uuid.NewRandomFromReader(rngReader{g})
		if err != nil {
			return "", err
		}
		return id.String(), nil
	},
	"uri":           uri,
	"uri-reference": uri,
	"iri":           uri,
	"iri-reference": uri,
	"uri-template": func(g *Generator) (string, error) {
		return fmt.Sprintf("https://%s/%s/{id}", g.domain(), g.word()), nil
	},
	"hostname":     hostname,
	"idn-hostname": hostname,
	"ipv4": func(g *Generator) (string, error) {
		var b [4]byte
		for i := range b {
			b[i] = byte(g.rng.IntN(256))
		}
		b[0] = byte(1 + g.rng.IntN(223))
		return netip.AddrFrom4(b).String(), nil
	},
	"ipv6": func(g *Generator) (string, error) {
		var b [16]byte
		for i := range b {
			b[i] = byte(g.rng.IntN(256))
		}
		b[0], b[1] = 0x20, 0x01
		return netip.AddrFrom16(b).String(), nil
	},
	"json-pointer": func(g *Generator) (string, error) {
		return "/" + g.word() + "/" + strconv.Itoa(g.rng.IntN(10)), nil
	},
	"relative-json-pointer": func(g *Generator) (string, error) {
		return strconv.Itoa(g.rng.IntN(4)) + "/" + g.word(), nil
	},
	"regex": func(g *Generator) (string, error) {
		return "^" + g.word() + "_[0-9]+$", nil
	},
	"semver": func(g *Generator) (string, error) {
		return fmt.Sprintf("%d.%d.%d", g.rng.IntN(5), g.rng.IntN(20), g.rng.IntN(100)), nil
	},
}

func email(g *Generator) (string, error) {
	return fmt.Sprintf("%s.%s@%s", g.word(), g.word(), g.domain()), nil
}

func uri(g *Generator) (string, error) {
	return fmt.Sprintf("https://%s/%s/%d", g.domain(), g.word(), g.rng.IntN(10000)), nil
}

func hostname(g *Generator) (string, error) {
	return fmt.Sprintf("%s-%d.%s", g.word(), g.rng.IntN(100), g.domain()), nil
}

// duration returns an ISO 8601 duration such as P2DT3H15M.
func (g *Generator) duration() string {
	return fmt.Sprintf("P%dDT%dH%dM", g.rng.IntN(7), g.rng.IntN(24), 1+g.rng.IntN(59))
}

func (g *Generator) domain() string {
	return domains[g.rng.IntN(len(domains))]
}

var domains = []string{"example.com", "example.org", "example.net"}

// recentTime returns a UTC time within the 24 hours before the generator clock.
func (g *Generator) recentTime() time.Time {
	offset := time.Duration(g.rng.Int64N(int64(24 * time.Hour / time.Second))) * time.Second
	return g.clock().UTC().Add(-offset).Truncate(time.Second)
}

func (g *Generator) word() string {
	return vocabulary[g.rng.IntN(len(vocabulary))]
}

// rngReader adapts the generator's random source to io.Reader so UUIDs follow the seed.
type rngReader struct {
	g *Generator
}

func (r rngReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r.g.rng.Uint32())
	}
	return len(p), nil
}
