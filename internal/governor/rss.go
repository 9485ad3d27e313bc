package governor

import (
	"os"
	"strconv"
	"strings"
)

// residentSetSize reads the process resident set from /proc. On platforms
// without procfs it reports false and the RSS check is skipped.
func residentSetSize() (uint64, bool) {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, false
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return pages * uint64(os.Getpagesize()), true
}
