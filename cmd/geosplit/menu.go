package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/EmpoweredVote/geosplit/internal/config"
)

// promptLayer shows the layer menu on out and reads one choice from in.
func promptLayer(in io.Reader, out io.Writer) (config.LayerKind, error) {
	rule := strings.Repeat("=", 40)
	fmt.Fprintln(out)
	fmt.Fprintln(out, rule)
	fmt.Fprintln(out, "  WHAT DO YOU WANT TO PROCESS?")
	for i, k := range config.Kinds {
		fmt.Fprintf(out, "[%d] - %s\n", i, k.Label())
	}
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "Enter %s: ", choices(len(config.Kinds)))

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("read choice: %w", err)
	}
	return config.KindFromIndex(line)
}

func choices(n int) string {
	opts := make([]string, n)
	for i := range opts {
		opts[i] = fmt.Sprint(i)
	}
	if n < 2 {
		return strings.Join(opts, "")
	}
	return strings.Join(opts[:n-1], ", ") + " or " + opts[n-1]
}
