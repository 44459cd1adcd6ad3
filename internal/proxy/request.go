package proxy

import (
	"container/list"
	"strings"

	"github.com/pyzhaowei/redis-cluster-proxy/internal/cluster"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/resp"
)

// Client is one connected proxy client. Its requests are processed in
// arrival order by the worker the client is pinned to.
type Client struct {
	ID uint64

	// RequestsToReprocess lists this client's requests currently parked
	// by the reconfiguration controller.
	RequestsToReprocess *list.List

	worker        *Worker
	nextRequestID uint64
}

// NewClient creates a client with the given id.
func NewClient(id uint64) *Client {
	return &Client{
		ID:                  id,
		RequestsToReprocess: list.New(),
	}
}

// NewRequest builds the next request for this client from parsed command
// arguments.
func (cl *Client) NewRequest(args [][]byte) *Request {
	req := &Request{
		Client:  cl,
		ID:      cl.nextRequestID,
		Command: args,
		Slot:    -1,
	}
	cl.nextRequestID++
	return req
}

// Request is a client command in flight through the proxy. It satisfies
// cluster.Request so the reconfiguration controller can park and replay it.
type Request struct {
	Client  *Client
	ID      uint64
	Command [][]byte

	// Routing state, reset whenever the request is parked.
	Slot    int
	Node    *cluster.Node
	Written int

	HasWriteHandler  bool
	NeedReprocessing bool

	// Multi-key fan-out links.
	ParentRequest *Request
	ChildRequests []*Request

	// Outcome, set exactly once per execution.
	Reply *resp.Reply
	Err   error

	redirects int
}

// Name returns the upper-cased command name, or "".
func (r *Request) Name() string {
	if len(r.Command) == 0 {
		return ""
	}
	return strings.ToUpper(string(r.Command[0]))
}

// Key returns the routing key: the first key argument of the command.
func (r *Request) Key() string {
	if len(r.Command) < 2 {
		return ""
	}
	return string(r.Command[1])
}

// ClientID implements cluster.Request.
func (r *Request) ClientID() uint64 { return r.Client.ID }

// RequestID implements cluster.Request.
func (r *Request) RequestID() uint64 { return r.ID }

// WriteInProgress implements cluster.Request.
func (r *Request) WriteInProgress() bool { return r.HasWriteHandler }

// Park implements cluster.Request: the routing state is cleared and the
// request joins its client's reprocess list.
func (r *Request) Park() {
	r.NeedReprocessing = true
	r.Node = nil
	r.Slot = -1
	r.Written = 0
	r.Client.RequestsToReprocess.PushBack(r)
}

// ClearReprocessing implements cluster.Request.
func (r *Request) ClearReprocessing() { r.NeedReprocessing = false }

// Replayed implements cluster.Request: the request leaves its client's
// reprocess list and every target-node reference held by its parent and
// siblings is severed, since those may point at nodes freed by the reset.
func (r *Request) Replayed() {
	for e := r.Client.RequestsToReprocess.Front(); e != nil; e = e.Next() {
		if e.Value.(*Request) == r {
			r.Client.RequestsToReprocess.Remove(e)
			break
		}
	}
	var relatives []*Request
	if len(r.ChildRequests) > 0 {
		relatives = r.ChildRequests
	} else if r.ParentRequest != nil {
		relatives = r.ParentRequest.ChildRequests
		r.ParentRequest.Node = nil
	}
	for _, rel := range relatives {
		if rel != nil {
			rel.Node = nil
		}
	}
}

func (r *Request) setReply(reply *resp.Reply) {
	r.Reply = reply
	r.Err = nil
}

func (r *Request) fail(err error) {
	r.Err = err
	r.Reply = nil
}
