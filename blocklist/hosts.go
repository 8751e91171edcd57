package blocklist

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/semihalev/sdnsfwd/dnsutil"
)

var excluded = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"0.0.0.0":               {},
}

// ParseHosts reads a hosts format document. Every name after the address of
// a line is blocked. Lines without an address, comments, blank lines and
// loopback names are skipped.
func ParseHosts(r io.Reader) (map[string]struct{}, error) {
	set := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		for _, field := range fields[1:] {
			name := dnsutil.Normalize(field)
			if name == "" {
				continue
			}

			if _, ok := excluded[name]; ok {
				continue
			}

			set[name] = struct{}{}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning hostfile: %w", err)
	}

	return set, nil
}
