package proxy

import "errors"

// Sentinel errors surfaced to clients by the proxy.

var (
	// ErrClusterDown indicates the cluster is broken or unreachable.
	ErrClusterDown = errors.New("CLUSTERDOWN The cluster is down")

	// ErrNoNode indicates the key's hash slot is not served by any node.
	ErrNoNode = errors.New("CLUSTERDOWN Hash slot not served")

	// ErrTooManyRedirections indicates a request kept being redirected
	// across reconfigurations.
	ErrTooManyRedirections = errors.New("ERR too many cluster redirections")

	// ErrCrossSlot indicates a multi-key command with keys in different
	// slots that cannot be split.
	ErrCrossSlot = errors.New("CROSSSLOT Keys in request don't hash to the same slot")
)
