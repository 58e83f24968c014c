// Package portfile writes the runtime port file the gateway and relay
// produce on startup so test harnesses can discover ephemeral ports.
package portfile

import (
	"fmt"
	"os"
	"strings"
)

// Write dumps one "port:<n>" line per port, in the order given.
func Write(path string, ports ...int) error {
	if path == "" {
		return nil
	}
	var b strings.Builder
	for _, p := range ports {
		fmt.Fprintf(&b, "port:%d\n", p)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
