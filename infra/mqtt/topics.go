package mqtt

// Lifecycle topic layout under the configured prefix.

func TopicStarted(prefix string) string  { return prefix + "/session/started" }
func TopicProfile(prefix string) string  { return prefix + "/session/profile" }
func TopicMatched(prefix string) string  { return prefix + "/session/matched" }
func TopicFailed(prefix string) string   { return prefix + "/session/failed" }
func TopicTimedOut(prefix string) string { return prefix + "/session/timed_out" }
