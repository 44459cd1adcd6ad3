package proxy

import (
	"strings"

	"github.com/pyzhaowei/redis-cluster-proxy/internal/cluster"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/logger"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/metrics"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/resp"
)

// Worker owns one private cluster copy and processes the requests of the
// clients pinned to it, one at a time. All access to the worker's cluster
// happens on the worker goroutine.
type Worker struct {
	id      int
	cluster *cluster.Cluster
	log     logger.Logger

	auth            string
	maxRedirections int

	tasks chan func()
	quit  chan struct{}
}

func newWorker(id int, c *cluster.Cluster, log logger.Logger, auth string, maxRedirections int) *Worker {
	w := &Worker{
		id:              id,
		cluster:         c,
		log:             log,
		auth:            auth,
		maxRedirections: maxRedirections,
		tasks:           make(chan func(), 128),
		quit:            make(chan struct{}),
	}
	c.ProcessRequest = func(creq cluster.Request) {
		w.execute(creq.(*Request))
	}
	c.OnNodeDisconnection = func(n *cluster.Node) {
		n.Connection.HasReadHandler = false
		log.Debugf("Node %s disconnected (thread: %d)", n.Addr(), id)
	}
	return w
}

// Cluster returns the worker's private cluster.
func (w *Worker) Cluster() *cluster.Cluster { return w.cluster }

// Start launches the worker goroutine.
func (w *Worker) Start() { go w.loop() }

// Stop terminates the worker goroutine.
func (w *Worker) Stop() { close(w.quit) }

func (w *Worker) loop() {
	for {
		select {
		case fn := <-w.tasks:
			fn()
		case <-w.quit:
			return
		}
	}
}

// Do runs fn on the worker goroutine and waits for it to finish. It
// returns early when the worker is stopped.
func (w *Worker) Do(fn func()) {
	done := make(chan struct{})
	select {
	case w.tasks <- func() { defer close(done); fn() }:
	case <-w.quit:
		return
	}
	select {
	case <-done:
	case <-w.quit:
	}
}

// execute resolves req against the worker's cluster and fills in its reply
// or error. Redirection replies arm the reconfiguration controller; the
// request is parked and replayed against the fresh topology.
func (w *Worker) execute(req *Request) {
	c := w.cluster
	if c.Broken() {
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		req.fail(ErrClusterDown)
		return
	}
	if req.Name() == "MGET" && len(req.Command) > 2 {
		w.executeMultiKey(req)
		return
	}
	node := req.Node
	if node == nil {
		slot := -1
		node = c.NodeForKey(req.Key(), &slot)
		if node == nil {
			metrics.RequestsTotal.WithLabelValues("unroutable").Inc()
			req.fail(ErrNoNode)
			return
		}
		req.Slot = slot
		req.Node = node
	}
	reply, err := w.roundTrip(node, req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		req.fail(err)
		return
	}
	if reply.IsError() && isRedirection(reply.Str) {
		metrics.RequestsTotal.WithLabelValues("redirected").Inc()
		w.handleRedirection(req, reply)
		return
	}
	metrics.RequestsTotal.WithLabelValues("routed").Inc()
	req.setReply(reply)
}

// executeMultiKey fans an MGET out into one child GET per key and
// assembles the children's replies in key order.
func (w *Worker) executeMultiKey(req *Request) {
	keys := req.Command[1:]
	children := make([]*Request, len(keys))
	for i, key := range keys {
		child := req.Client.NewRequest([][]byte{[]byte("GET"), key})
		child.ParentRequest = req
		children[i] = child
	}
	req.ChildRequests = children
	elems := make([]*resp.Reply, len(children))
	for i, child := range children {
		w.execute(child)
		if child.Err != nil {
			req.fail(child.Err)
			return
		}
		elems[i] = child.Reply
	}
	req.setReply(&resp.Reply{Type: resp.Array, Elems: elems})
}

// roundTrip pushes req through node's connection queues and performs one
// synchronous command exchange. Transport failures disconnect the node;
// it stays in the topology for a later retry.
func (w *Worker) roundTrip(node *cluster.Node, req *Request) (*resp.Reply, error) {
	conn := node.Connection
	if conn.Transport() == nil {
		if err := node.Connect(); err != nil {
			return nil, err
		}
		if w.auth != "" && !conn.Authenticated {
			if err := node.Auth(w.auth); err != nil {
				w.log.Errorf("Failed to authenticate to node %s: %s", node.Addr(), err)
				return nil, err
			}
		}
	}
	t := conn.Transport()
	conn.EnqueueToSend(req)
	if err := t.Send(req.Command...); err != nil {
		conn.RemoveToSend(req)
		node.Disconnect()
		return nil, err
	}
	conn.MoveToPending()
	if err := t.Flush(); err != nil {
		conn.PopPending()
		node.Disconnect()
		return nil, err
	}
	req.Written = encodedCommandLen(req.Command)
	reply, err := t.ReadReply()
	conn.PopPending()
	if err != nil {
		node.Disconnect()
		return nil, err
	}
	return reply, nil
}

func (w *Worker) handleRedirection(req *Request, reply *resp.Reply) {
	if req.redirects >= w.maxRedirections {
		req.setReply(reply)
		return
	}
	req.redirects++
	w.log.Debugf("Worker %d: %s, reconfiguring",
		w.id, strings.SplitN(reply.Str, " ", 2)[0])
	c := w.cluster
	c.RequireUpdate()
	c.AddRequestToReprocess(req)
	w.reconfigure()
	if req.Reply == nil && req.Err == nil {
		// The cluster broke before the request could be replayed.
		req.fail(ErrClusterDown)
	}
}

// reconfigure runs Update until the cycle completes. The worker's queues
// drain synchronously on this goroutine, so a WAIT here resolves on the
// following pass.
func (w *Worker) reconfigure() {
	for {
		switch w.cluster.Update() {
		case cluster.UpdateWait:
			continue
		default:
			return
		}
	}
}

func isRedirection(errstr string) bool {
	return strings.HasPrefix(errstr, "MOVED ") || strings.HasPrefix(errstr, "ASK ")
}

// encodedCommandLen returns the wire length of a command encoded as a RESP
// array of bulk strings.
func encodedCommandLen(args [][]byte) int {
	n := 1 + digits(len(args)) + 2
	for _, arg := range args {
		n += 1 + digits(len(arg)) + 2 + len(arg) + 2
	}
	return n
}

func digits(n int) int {
	if n == 0 {
		return 1
	}
	d := 0
	for n > 0 {
		d++
		n /= 10
	}
	return d
}
