package permcache

import "strings"

// Key namespaces. Action decisions and directory permissions share one
// store; the namespace segment keeps them from ever colliding.
const (
	nsAction = "action"
	nsDir    = "dir"
)

// ActionKey builds the cache key for an (agent, action) permission decision.
func ActionKey(agentID, actionID string) string {
	return agentID + ":" + nsAction + ":" + actionID
}

// DirKey builds the cache key for an (agent, directory) access decision.
func DirKey(agentID, path string) string {
	return agentID + ":" + nsDir + ":" + path
}

// agentPrefix returns the prefix shared by all of an agent's keys.
func agentPrefix(agentID string) string {
	return agentID + ":"
}

// keyAgent extracts the agent ID from a cache key, or "" if malformed.
func keyAgent(key string) string {
	i := strings.IndexByte(key, ':')
	if i < 0 {
		return ""
	}
	return key[:i]
}
