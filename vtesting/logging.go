package vtesting

import (
	"regexp"

	"github.com/stretchr/testify/assert"
	"www.velocidex.com/golang/memtriage/logging"
)

// Fails the test unless a logged line matches regex.
func MemoryLogsContain(t assert.TestingT, regex string, msgAndArgs ...interface{}) bool {
	re := regexp.MustCompile(regex)

	lines := logging.GetMemoryLogs()
	for _, line := range lines {
		if re.MatchString(line) {
			return true
		}
	}

	return assert.Fail(t, "log line not found",
		append([]interface{}{"%v not in %v lines of logs", regex, len(lines)},
			msgAndArgs...)...)
}
