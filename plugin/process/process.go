package process

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/plugin"
	"github.com/plugdns/plugdns/utils"
)

const Type = "process"

func init() {
	plugin.Register(Type, NewProcess)
}

const (
	DefaultHandshakeTimeout = utils.Duration(3 * time.Second)
	DefaultShutdownTimeout  = utils.Duration(3 * time.Second)
)

type Args struct {
	Command string                 `json:"command"`
	Args    utils.Listable[string] `json:"args,omitempty"`
	Env     utils.Listable[string] `json:"env,omitempty"`
	// HandshakeTimeout bounds how long the child may take to send its
	// info line after spawn.
	HandshakeTimeout utils.Duration `json:"handshake-timeout,omitempty"`
	ShutdownTimeout  utils.Duration `json:"shutdown-timeout,omitempty"`
}

var (
	_ adapter.Plugin  = (*Process)(nil)
	_ adapter.Starter = (*Process)(nil)
	_ adapter.Closer  = (*Process)(nil)
)

// Process runs plugin logic in a child process and speaks the stdio JSON
// protocol with it. The child is the untrusted side: everything it can do
// goes through the helper calls served here, and a misbehaving child is
// killed and respawned on the next call.
type Process struct {
	ctx    context.Context
	core   adapter.Core
	tag    string
	logger log.Logger

	command          string
	args             []string
	env              []string
	handshakeTimeout time.Duration
	shutdownTimeout  time.Duration

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *json.Encoder
	dec   *json.Decoder
}

func NewProcess(ctx context.Context, core adapter.Core, logger log.Logger, tag string, args any) (adapter.Plugin, error) {
	p := &Process{
		ctx:    ctx,
		core:   core,
		tag:    tag,
		logger: logger,
	}
	var a Args
	err := utils.JsonDecode(args, &a)
	if err != nil {
		return nil, fmt.Errorf("parse args failed: %w", err)
	}
	if a.Command == "" {
		return nil, fmt.Errorf("missing command")
	}
	p.command = a.Command
	p.args = a.Args
	p.env = a.Env
	p.handshakeTimeout = time.Duration(a.HandshakeTimeout)
	if p.handshakeTimeout <= 0 {
		p.handshakeTimeout = time.Duration(DefaultHandshakeTimeout)
	}
	p.shutdownTimeout = time.Duration(a.ShutdownTimeout)
	if p.shutdownTimeout <= 0 {
		p.shutdownTimeout = time.Duration(DefaultShutdownTimeout)
	}
	return p, nil
}

func (p *Process) Tag() string {
	return p.tag
}

func (p *Process) Type() string {
	return Type
}

func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spawnLocked()
}

func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}
	p.stdin.Close()
	done := make(chan struct{})
	go func(cmd *exec.Cmd) {
		cmd.Wait()
		close(done)
	}(p.cmd)
	select {
	case <-done:
	case <-time.After(p.shutdownTimeout):
		p.cmd.Process.Kill()
		<-done
	}
	p.cmd = nil
	return nil
}

func (p *Process) ValidConfig() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureRunningLocked(); err != nil {
		return err
	}
	if err := p.enc.Encode(request{Method: "valid-config"}); err != nil {
		p.killLocked()
		return fmt.Errorf("write request failed: %w", err)
	}
	_, err := p.serveLocked(p.ctx, nil)
	return err
}

func (p *Process) Run(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureRunningLocked(); err != nil {
		return nil, adapter.NewInternalError(err.Error())
	}
	if err := p.enc.Encode(request{Method: "run", Packet: packet}); err != nil {
		p.killLocked()
		return nil, adapter.NewInternalError(fmt.Sprintf("write request failed: %s", err))
	}
	return p.serveLocked(ctx, helper)
}

func (p *Process) spawnLocked() error {
	cmd := exec.CommandContext(p.ctx, p.command, p.args...)
	cmd.Env = p.env
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin failed: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout failed: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open stderr failed: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start process failed: %s, error: %w", p.command, err)
	}
	go p.relayStderr(stderr)
	dec := json.NewDecoder(stdout)
	enc := json.NewEncoder(stdin)

	var info childInfo
	errCh := make(chan error, 1)
	go func() { errCh <- dec.Decode(&info) }()
	select {
	case err := <-errCh:
		if err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return fmt.Errorf("read process info failed: %w", err)
		}
	case <-time.After(p.handshakeTimeout):
		cmd.Process.Kill()
		cmd.Wait()
		return fmt.Errorf("timeout waiting for process info")
	}
	if info.Protocol != ProtocolVersion {
		cmd.Process.Kill()
		cmd.Wait()
		return fmt.Errorf("protocol mismatch: process speaks %q, host speaks %q", info.Protocol, ProtocolVersion)
	}
	if err := enc.Encode(hostInfo{Protocol: ProtocolVersion, Tag: p.tag}); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return fmt.Errorf("write host info failed: %w", err)
	}
	p.logger.Infof("process started: %s (%s %s)", p.command, info.Name, info.Version)
	p.cmd = cmd
	p.stdin = stdin
	p.enc = enc
	p.dec = dec
	return nil
}

func (p *Process) ensureRunningLocked() error {
	if p.cmd != nil {
		return nil
	}
	p.logger.Warnf("process not running, respawning: %s", p.command)
	return p.spawnLocked()
}

func (p *Process) killLocked() {
	if p.cmd == nil {
		return
	}
	p.cmd.Process.Kill()
	p.cmd.Wait()
	p.cmd = nil
}

func (p *Process) relayStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.logger.Debugf("process [%s] stderr: %s", p.tag, scanner.Text())
	}
}

// serveLocked answers the child's helper calls until it sends a terminal
// line. A nil helper means the child is only validating its config and may
// not touch the chain, the map or sockets.
func (p *Process) serveLocked(ctx context.Context, helper adapter.Helper) ([]byte, error) {
	for {
		msg, err := p.readLocked(ctx)
		if err != nil {
			p.killLocked()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, adapter.NewInternalError(fmt.Sprintf("process protocol failed: %s", err))
		}
		switch msg.Method {
		case methodReturn:
			return msg.Packet, nil
		case methodError:
			return nil, adapter.NewError(msg.Code, msg.Msg)
		case methodLoadConfig:
			err = p.enc.Encode(response{Config: p.core.GetPluginRawConfig(p.tag)})
		default:
			if helper == nil {
				err = p.enc.Encode(response{Error: fmt.Sprintf("method not allowed during config validation: %s", msg.Method)})
				break
			}
			err = p.enc.Encode(p.dispatch(ctx, helper, msg))
		}
		if err != nil {
			p.killLocked()
			return nil, adapter.NewInternalError(fmt.Sprintf("write response failed: %s", err))
		}
	}
}

// readLocked decodes one line, aborting (and killing the child) when ctx
// expires first.
func (p *Process) readLocked(ctx context.Context) (request, error) {
	var msg request
	errCh := make(chan error, 1)
	go func() { errCh <- p.dec.Decode(&msg) }()
	select {
	case err := <-errCh:
		return msg, err
	case <-ctx.Done():
		p.cmd.Process.Kill()
		<-errCh
		return msg, ctx.Err()
	}
}

func (p *Process) dispatch(ctx context.Context, helper adapter.Helper, msg request) response {
	switch msg.Method {
	case methodCallNextPlugin:
		resp, ok, err := helper.CallNextPlugin(ctx, msg.Packet)
		if err != nil {
			r := response{Error: err.Error()}
			if pErr, isPluginErr := err.(*adapter.Error); isPluginErr {
				r.Errno = pErr.Code
			}
			return r
		}
		return response{Packet: resp, Ok: ok}
	case methodMapSet:
		helper.MapSet(msg.Key, msg.Value, time.Duration(msg.TTLMs)*time.Millisecond)
		return response{}
	case methodMapGet:
		value, found := helper.MapGet(msg.Key)
		return response{Value: value, Found: found}
	case methodMapRemove:
		helper.MapRemove(msg.Key)
		return response{}
	case methodUDPBind:
		fd, code := helper.UDP().Bind(adapter.SockAddr{Addr: msg.Addr, Port: msg.Port})
		return response{FD: fd, Errno: uint32(code)}
	case methodUDPConnect:
		code := helper.UDP().Connect(msg.FD, adapter.SockAddr{Addr: msg.Addr, Port: msg.Port})
		return response{Errno: uint32(code)}
	case methodUDPSend:
		n, code := helper.UDP().Send(msg.FD, msg.Buf)
		return response{N: n, Errno: uint32(code)}
	case methodUDPRecv:
		buf, code := helper.UDP().Recv(msg.FD, msg.Size)
		return response{Buf: buf, Errno: uint32(code)}
	case methodUDPSendTo:
		n, code := helper.UDP().SendTo(msg.FD, msg.Buf, adapter.SockAddr{Addr: msg.Addr, Port: msg.Port})
		return response{N: n, Errno: uint32(code)}
	case methodUDPRecvFrom:
		buf, addr, code := helper.UDP().RecvFrom(msg.FD, msg.Size)
		return response{Buf: buf, Addr: addr.Addr, Port: addr.Port, Errno: uint32(code)}
	case methodUDPClose:
		helper.UDP().Close(msg.FD)
		return response{}
	case methodTCPBind:
		fd, code := helper.TCP().Bind(adapter.SockAddr{Addr: msg.Addr, Port: msg.Port})
		return response{FD: fd, Errno: uint32(code)}
	case methodTCPAccept:
		fd, addr, code := helper.TCP().Accept(msg.FD)
		return response{FD: fd, Addr: addr.Addr, Port: addr.Port, Errno: uint32(code)}
	case methodTCPConnect:
		fd, code := helper.TCP().Connect(adapter.SockAddr{Addr: msg.Addr, Port: msg.Port})
		return response{FD: fd, Errno: uint32(code)}
	case methodTCPWrite:
		n, code := helper.TCP().Write(msg.FD, msg.Buf)
		return response{N: n, Errno: uint32(code)}
	case methodTCPFlush:
		code := helper.TCP().Flush(msg.FD)
		return response{Errno: uint32(code)}
	case methodTCPRead:
		buf, code := helper.TCP().Read(msg.FD, msg.Size)
		return response{Buf: buf, Errno: uint32(code)}
	case methodTCPClose:
		helper.TCP().Close(msg.FD)
		return response{}
	default:
		return response{Error: fmt.Sprintf("unknown method: %s", msg.Method)}
	}
}
