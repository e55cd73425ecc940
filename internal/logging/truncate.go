package logging

// MaxLogFieldLength bounds string fields in log entries. Cloud-init payloads
// and remote command output can run to many kilobytes.
const MaxLogFieldLength = 1024

// Truncate shortens s to MaxLogFieldLength, appending "..." when cut.
func Truncate(s string) string {
	return TruncateN(s, MaxLogFieldLength)
}

// TruncateN shortens s to at most n bytes, appending "..." when cut.
func TruncateN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
