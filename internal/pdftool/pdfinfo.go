package pdftool

import (
	"bufio"
	"strconv"
	"strings"
)

// Info is the subset of pdfinfo output the pipeline cares about.
type Info struct {
	Pages     int
	Rotation  int // degrees of the first rotated page, 0 if none
	Encrypted bool
}

// ParseInfo extracts fields from pdfinfo's key/value output.
func ParseInfo(out []byte) Info {
	var info Info
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := sc.Text()
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Pages":
			if n, err := strconv.Atoi(value); err == nil {
				info.Pages = n
			}
		case "Page rot":
			if n, err := strconv.Atoi(value); err == nil {
				info.Rotation = n % 360
			}
		case "Encrypted":
			info.Encrypted = strings.HasPrefix(value, "yes")
		}
	}
	return info
}
