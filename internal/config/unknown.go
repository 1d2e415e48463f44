package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// checkUnknownKeys rejects a config file that sets any key this package
// doesn't recognize, rather than silently ignoring a typo. Decoding
// against a typed struct means md.Undecoded() is exactly the set of keys
// that didn't match any known field.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	keys := make([]string, 0, len(undecoded))
	for _, key := range undecoded {
		keys = append(keys, key.String())
	}

	sort.Strings(keys)

	return fmt.Errorf("unknown config key(s): %s", strings.Join(keys, ", "))
}
