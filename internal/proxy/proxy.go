// Package proxy implements the client-facing side of the proxy: the RESP
// server accepting cluster-unaware clients, the per-worker dispatch onto
// private cluster copies, and the request model shared with the cluster
// core.
package proxy

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/redcon"

	"github.com/pyzhaowei/redis-cluster-proxy/internal/cluster"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/cluster/hash"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/config"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/logger"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/metrics"
)

// Proxy accepts Redis clients and routes their commands to the right
// cluster node. Each client is pinned to one worker; each worker owns a
// private copy of the cluster topology.
type Proxy struct {
	cfg *config.Config
	log logger.Logger

	workers []*Worker
	server  *redcon.Server

	mu           sync.RWMutex
	clients      map[redcon.Conn]*Client
	nextClientID uint64
}

// New creates a proxy for the given configuration.
func New(cfg *config.Config, log logger.Logger) *Proxy {
	return &Proxy{
		cfg:     cfg,
		log:     log,
		clients: make(map[redcon.Conn]*Client),
	}
}

// Start fetches the initial topology from the configured entry point,
// spins up the workers (worker 0 keeps the fetched cluster, every other
// worker receives a duplicate), and serves clients on the bind address.
// It blocks until the server stops.
func (p *Proxy) Start() error {
	template := cluster.NewCluster(0)
	template.SetLogger(p.log)
	template.SetAuth(p.cfg.Auth)

	host, port, unixSocket, err := p.cfg.EntryPoint()
	if err != nil {
		return err
	}
	if err := template.FetchConfiguration(host, port, unixSocket); err != nil {
		return fmt.Errorf("failed to fetch cluster configuration: %w", err)
	}
	p.log.Infof("Fetched cluster configuration: %d nodes", len(template.Nodes()))

	p.workers = make([]*Worker, p.cfg.Workers)
	p.workers[0] = newWorker(0, template, p.log, p.cfg.Auth, p.cfg.MaxRedirections)
	for i := 1; i < p.cfg.Workers; i++ {
		dup, err := template.DuplicateFor(i)
		if err != nil {
			return fmt.Errorf("failed to duplicate cluster for worker %d: %w", i, err)
		}
		p.workers[i] = newWorker(i, dup, p.log, p.cfg.Auth, p.cfg.MaxRedirections)
	}
	for _, w := range p.workers {
		w.Start()
	}

	addr := net.JoinHostPort(p.cfg.Bind, strconv.Itoa(p.cfg.Port))
	p.server = redcon.NewServer(addr, p.handleCommand, p.handleAccept, p.handleClose)
	p.log.Infof("Listening on %s (%d workers)", addr, len(p.workers))
	return p.server.ListenAndServe()
}

// Stop shuts the server and the workers down.
func (p *Proxy) Stop() error {
	var err error
	if p.server != nil {
		err = p.server.Close()
	}
	for _, w := range p.workers {
		if w != nil {
			w.Stop()
		}
	}
	return err
}

func (p *Proxy) handleAccept(conn redcon.Conn) bool {
	p.mu.Lock()
	id := p.nextClientID
	p.nextClientID++
	client := NewClient(id)
	client.worker = p.workers[int(id)%len(p.workers)]
	p.clients[conn] = client
	p.mu.Unlock()
	metrics.ClientConnections.Inc()
	p.log.Debugf("Client %d connected from %s", id, conn.RemoteAddr())
	return true
}

func (p *Proxy) handleClose(conn redcon.Conn, err error) {
	p.mu.Lock()
	client := p.clients[conn]
	delete(p.clients, conn)
	p.mu.Unlock()
	if client == nil {
		return
	}
	metrics.ClientConnections.Dec()
	// Requests of this client still parked for replay are dropped from
	// the reprocess index.
	w := client.worker
	w.Do(func() {
		for e := client.RequestsToReprocess.Front(); e != nil; e = e.Next() {
			w.cluster.RemoveRequestToReprocess(e.Value.(*Request))
		}
		client.RequestsToReprocess.Init()
	})
	p.log.Debugf("Client %d disconnected", client.ID)
}

func (p *Proxy) clientFor(conn redcon.Conn) *Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clients[conn]
}

func (p *Proxy) handleCommand(conn redcon.Conn, cmd redcon.Command) {
	client := p.clientFor(conn)
	if client == nil {
		conn.WriteError("ERR unknown client")
		return
	}
	name := strings.ToUpper(string(cmd.Args[0]))
	switch name {
	case "PING":
		if len(cmd.Args) > 1 {
			conn.WriteBulk(cmd.Args[1])
		} else {
			conn.WriteString("PONG")
		}
	case "QUIT":
		conn.WriteString("OK")
		conn.Close()
	case "AUTH":
		p.handleAuth(conn, cmd.Args)
	case "COMMAND":
		conn.WriteArray(0)
	case "SELECT":
		// The cluster only has database 0.
		conn.WriteString("OK")
	case "CLUSTER":
		p.handleCluster(client, conn, cmd.Args)
	case "PROXY":
		p.handleProxy(client, conn, cmd.Args)
	default:
		p.dispatch(client, conn, cmd.Args)
	}
}

func (p *Proxy) handleAuth(conn redcon.Conn, args [][]byte) {
	if len(args) != 2 {
		conn.WriteError("ERR wrong number of arguments for 'auth' command")
		return
	}
	if p.cfg.Auth == "" {
		conn.WriteError("ERR Client sent AUTH, but no password is set")
		return
	}
	if string(args[1]) != p.cfg.Auth {
		conn.WriteError("ERR invalid password")
		return
	}
	conn.WriteString("OK")
}

func (p *Proxy) handleCluster(client *Client, conn redcon.Conn, args [][]byte) {
	if len(args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'cluster' command")
		return
	}
	sub := strings.ToUpper(string(args[1]))
	w := client.worker
	switch sub {
	case "KEYSLOT":
		if len(args) != 3 {
			conn.WriteError("ERR wrong number of arguments for 'cluster|keyslot' command")
			return
		}
		conn.WriteInt(int(hash.KeySlot(string(args[2]))))
	case "NODES":
		var text string
		w.Do(func() { text = clusterNodesText(w.cluster) })
		conn.WriteBulkString(text)
	case "INFO":
		var text string
		w.Do(func() { text = clusterInfoText(w.cluster) })
		conn.WriteBulkString(text)
	case "SLOTS":
		p.dispatch(client, conn, args)
	default:
		conn.WriteError("ERR unknown subcommand '" + sub + "'")
	}
}

// handleProxy serves the proxy's own admin commands. PROXY UPDATE forces a
// reconfiguration cycle on the client's worker.
func (p *Proxy) handleProxy(client *Client, conn redcon.Conn, args [][]byte) {
	if len(args) < 2 {
		conn.WriteError("ERR wrong number of arguments for 'proxy' command")
		return
	}
	sub := strings.ToUpper(string(args[1]))
	w := client.worker
	switch sub {
	case "UPDATE":
		var status cluster.UpdateStatus
		w.Do(func() {
			w.cluster.RequireUpdate()
			status = w.cluster.Update()
		})
		conn.WriteString(status.String())
	case "ID":
		conn.WriteInt64(int64(client.ID))
	default:
		conn.WriteError("ERR unknown subcommand '" + sub + "'")
	}
}

func (p *Proxy) dispatch(client *Client, conn redcon.Conn, args [][]byte) {
	// redcon reuses its read buffer after the handler returns; the
	// request may outlive this call, so the arguments are copied.
	command := make([][]byte, len(args))
	for i := range args {
		command[i] = append([]byte(nil), args[i]...)
	}
	var req *Request
	w := client.worker
	start := time.Now()
	w.Do(func() {
		req = client.NewRequest(command)
		w.execute(req)
	})
	metrics.RequestDuration.Observe(time.Since(start).Seconds())
	if req == nil || (req.Err == nil && req.Reply == nil) {
		conn.WriteError("ERR proxy shutting down")
		return
	}
	if req.Err != nil {
		conn.WriteError(errorString(req.Err))
		return
	}
	conn.WriteRaw(req.Reply.Encode())
}

// errorString renders an error as a RESP error payload, keeping an
// existing Redis-style code prefix when present.
func errorString(err error) string {
	msg := err.Error()
	for _, prefix := range []string{"ERR", "CLUSTERDOWN", "CROSSSLOT", "MOVED", "ASK", "NOAUTH", "WRONGPASS"} {
		if strings.HasPrefix(msg, prefix) {
			return msg
		}
	}
	return "ERR " + msg
}

// clusterNodesText renders the worker's view of the topology in the same
// text format as the server's CLUSTER NODES reply.
func clusterNodesText(c *cluster.Cluster) string {
	var b strings.Builder
	for _, n := range c.Nodes() {
		flags := "master"
		if n.IsReplica {
			flags = "slave"
		}
		masterID := "-"
		if n.Replicate != "" {
			masterID = n.Replicate
		}
		name := n.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(&b, "%s %s:%d@%d %s %s 0 0 0 connected%s\n",
			name, n.IP, n.Port, n.Port+10000, flags, masterID,
			nodeSlotsText(n))
	}
	return b.String()
}

// nodeSlotsText compresses a node's owned slots into range tokens and
// appends its migration markers.
func nodeSlotsText(n *cluster.Node) string {
	var b strings.Builder
	slots := n.Slots
	for i := 0; i < len(slots); {
		j := i
		for j+1 < len(slots) && slots[j+1] == slots[j]+1 {
			j++
		}
		if i == j {
			fmt.Fprintf(&b, " %d", slots[i])
		} else {
			fmt.Fprintf(&b, " %d-%d", slots[i], slots[j])
		}
		i = j + 1
	}
	for _, m := range n.Migrating {
		fmt.Fprintf(&b, " [%s->-%s]", m.Slot, m.Peer)
	}
	for _, m := range n.Importing {
		fmt.Fprintf(&b, " [%s-<-%s]", m.Slot, m.Peer)
	}
	return b.String()
}

func clusterInfoText(c *cluster.Cluster) string {
	state := "ok"
	if c.Broken() {
		state = "fail"
	}
	assigned := 0
	masters := 0
	for _, n := range c.Nodes() {
		assigned += len(n.Slots)
		if !n.IsReplica {
			masters++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "cluster_state:%s\r\n", state)
	fmt.Fprintf(&b, "cluster_slots_assigned:%d\r\n", assigned)
	fmt.Fprintf(&b, "cluster_known_nodes:%d\r\n", len(c.Nodes()))
	fmt.Fprintf(&b, "cluster_size:%d\r\n", masters)
	return b.String()
}
