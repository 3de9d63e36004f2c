package process

// The wire protocol is newline-delimited JSON over the child's stdin and
// stdout. At startup the child sends an info line and the host answers with
// its own. Afterwards the host drives: it sends a request ("valid-config"
// or "run") and then serves the child's helper calls until the child sends
// a terminal "return" or "error" line.
//
// Byte fields ([]byte) travel base64-encoded, which is encoding/json's
// native representation.

const ProtocolVersion = "1"

type childInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Protocol string `json:"protocol"`
}

type hostInfo struct {
	Protocol string `json:"protocol"`
	Tag      string `json:"tag"`
}

const (
	methodReturn = "return"
	methodError  = "error"

	methodLoadConfig     = "load-config"
	methodCallNextPlugin = "call-next-plugin"
	methodMapSet         = "map-set"
	methodMapGet         = "map-get"
	methodMapRemove      = "map-remove"

	methodUDPBind     = "udp-bind"
	methodUDPConnect  = "udp-connect"
	methodUDPSend     = "udp-send"
	methodUDPRecv     = "udp-recv"
	methodUDPSendTo   = "udp-send-to"
	methodUDPRecvFrom = "udp-recv-from"
	methodUDPClose    = "udp-close"

	methodTCPBind    = "tcp-bind"
	methodTCPAccept  = "tcp-accept"
	methodTCPConnect = "tcp-connect"
	methodTCPWrite   = "tcp-write"
	methodTCPFlush   = "tcp-flush"
	methodTCPRead    = "tcp-read"
	methodTCPClose   = "tcp-close"
)

// request travels host -> child ("valid-config", "run") and child -> host
// (helper calls and the terminal "return"/"error").
type request struct {
	Method string `json:"method"`

	Packet []byte `json:"packet,omitempty"`
	Key    []byte `json:"key,omitempty"`
	Value  []byte `json:"value,omitempty"`
	TTLMs  int64  `json:"ttl-ms,omitempty"`

	Code uint32 `json:"code,omitempty"`
	Msg  string `json:"msg,omitempty"`

	FD   uint32 `json:"fd,omitempty"`
	Addr uint32 `json:"addr,omitempty"`
	Port uint16 `json:"port,omitempty"`
	Size uint64 `json:"size,omitempty"`
	Buf  []byte `json:"buf,omitempty"`
}

// response answers one helper call. Errno carries the socket error code for
// socket methods and is zero on success.
type response struct {
	Errno uint32 `json:"errno"`
	Error string `json:"error,omitempty"`

	Packet []byte `json:"packet,omitempty"`
	Ok     bool   `json:"ok,omitempty"`
	Config string `json:"config,omitempty"`
	Value  []byte `json:"value,omitempty"`
	Found  bool   `json:"found,omitempty"`

	FD   uint32 `json:"fd,omitempty"`
	N    uint64 `json:"n,omitempty"`
	Buf  []byte `json:"buf,omitempty"`
	Addr uint32 `json:"addr,omitempty"`
	Port uint16 `json:"port,omitempty"`
}
